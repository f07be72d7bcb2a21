// Package server exposes the search engine over HTTP.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/delve-search/delve/app/config"
	"github.com/delve-search/delve/app/search"
)

// Searcher is the part of the search engine the API depends on.
type Searcher interface {
	Query(text string) ([]search.Result, error)
}

type httpResponse struct {
	status       int16
	Success      bool            `json:"success"`
	Error        string          `json:"error,omitempty"`
	Results      []search.Result `json:"results"`
	ResponseTime float64         `json:"responseTime"`
}

// Handler builds the API routes. Split from Start so tests can serve them
// without binding a port.
func Handler(engine Searcher) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/search", func(w http.ResponseWriter, req *http.Request) {
		timeStart := time.Now().UnixMicro()
		var response *httpResponse

		q := req.URL.Query().Get("q")

		if q != "" {
			results, err := engine.Query(q)
			if err != nil {
				response = &httpResponse{
					status:  500,
					Success: false,
					Error:   "Internal server error",
				}

				fmt.Printf("Error generating search results: %v\n", err)
			} else {
				response = &httpResponse{
					status:  200,
					Success: true,
					Results: results,
				}
			}
		} else {
			response = &httpResponse{
				status:  400,
				Success: false,
				Error:   "Bad request",
			}
		}

		w.Header().Add("Content-Type", "application/json")
		w.WriteHeader(int(response.status))
		response.ResponseTime = float64(time.Now().UnixMicro()-timeStart) / 1e6
		str, err := json.Marshal(response)
		if err != nil {
			w.Write([]byte(`{"success":false,"error":"Failed to marshal struct into JSON"}`))
		} else {
			w.Write(str)
		}
	})

	return mux
}

func Start(engine Searcher, config *config.Config) {
	addr := fmt.Sprintf("%v:%v", config.HTTP.Listen, config.HTTP.Port)
	fmt.Printf("Listening on http://%v\n", addr)
	log.Fatal(http.ListenAndServe(addr, Handler(engine)))
}
