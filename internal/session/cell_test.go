package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/candicemama-blip/thirdshelf/internal/domain"
)

func TestWatchReceivesCurrentThenChanges(t *testing.T) {
	alice := &domain.User{ID: "u-alice"}
	bob := &domain.User{ID: "u-bob"}
	cell := NewCell(alice)

	var seen []string
	cancel := cell.Watch(func(u *domain.User) { seen = append(seen, uid(u)) })

	cell.Set(&domain.User{ID: "u-alice", DisplayName: "Alice"})
	cell.Set(bob)
	cell.Set(nil)
	cell.Set(nil)

	assert.Equal(t, []string{"u-alice", "u-bob", ""}, seen)
	assert.Nil(t, cell.Current())

	cancel()
	cancel()
	cell.Set(alice)
	assert.Len(t, seen, 3)
	assert.Equal(t, alice, cell.Current())
}

func TestSetKeepsProfileEditsWithoutNotifying(t *testing.T) {
	cell := NewCell(&domain.User{ID: "u1", DisplayName: "Old"})
	calls := 0
	cell.Watch(func(*domain.User) { calls++ })

	cell.Set(&domain.User{ID: "u1", DisplayName: "New"})
	assert.Equal(t, 1, calls)
	assert.Equal(t, "New", cell.Current().DisplayName)
}

func TestWatchersRunInRegistrationOrder(t *testing.T) {
	cell := NewCell(nil)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		cell.Watch(func(u *domain.User) {
			if u != nil {
				order = append(order, i)
			}
		})
	}
	cell.Set(&domain.User{ID: "u1"})
	assert.Equal(t, []int{0, 1, 2}, order)
}
