package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/candicemama-blip/thirdshelf/internal/logging"
)

// volume mirrors the subset of the Google Books volume shape the server reads.
type volume struct {
	ID         string          `json:"id"`
	VolumeInfo json.RawMessage `json:"volumeInfo"`
}

type volumeTitle struct {
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
}

func main() {
	var (
		port     = flag.String("port", "9099", "port to listen on")
		data     = flag.String("data", "mock-volumes.json", "path to mock data file (JSON array of volumes)")
		logLevel = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logger, err := logging.New(*logLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck
	logger = logger.Named("booksearch-mock")

	file, err := os.ReadFile(*data)
	if err != nil {
		logger.Fatal("read mock data", zap.Error(err))
	}

	var volumes []volume
	if err := json.Unmarshal(file, &volumes); err != nil {
		logger.Fatal("parse mock data", zap.Error(err))
	}

	index := make([]string, len(volumes))
	for i, v := range volumes {
		var info volumeTitle
		_ = json.Unmarshal(v.VolumeInfo, &info)
		index[i] = strings.ToLower(info.Title + " " + strings.Join(info.Authors, " "))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/volumes", func(w http.ResponseWriter, r *http.Request) {
		q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
		limit, err := strconv.Atoi(r.URL.Query().Get("maxResults"))
		if err != nil || limit <= 0 {
			limit = 10
		}

		items := make([]volume, 0, limit)
		for i, v := range volumes {
			if q != "" && strings.Contains(index[i], q) {
				items = append(items, v)
				if len(items) == limit {
					break
				}
			}
		}
		logger.Debug("lookup", zap.String("q", q), zap.Int("items", len(items)))

		resp := map[string]interface{}{"kind": "books#volumes", "totalItems": len(items)}
		if len(items) > 0 {
			resp["items"] = items
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	addr := ":" + *port
	logger.Info("mock book search listening", zap.String("addr", addr), zap.Int("volumes", len(volumes)))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
