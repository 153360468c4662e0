package metrics

import (
	"fmt"
	"net/http"

	"github.com/lyricvid/render-worker/config"
	"github.com/lyricvid/render-worker/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ListenAndServe starts the Prometheus scrape endpoint on promPort and blocks
// until it fails; cmd/render-worker runs it in its own errgroup goroutine.
func ListenAndServe(promPort int) error {
	listen := fmt.Sprintf("0.0.0.0:%d", promPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.LogNoRequestID("starting Prometheus metrics endpoint", "version", config.Version, "addr", listen)
	return http.ListenAndServe(listen, mux)
}
