package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
)

// Throwaway origin standing in for the game's static host during manual
// runs. Restart it with a new -version to exercise the update notification.
func main() {
	version := flag.String("version", "1.0.0", "deployed version string")
	addr := flag.String("addr", ":9000", "listen address")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "<html><body>fruit game %s</body></html>\n", *version)
	})
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/manifest+json")
		fmt.Fprintln(w, `{"name":"Fruit Game","start_url":"/index.html"}`)
	})
	mux.HandleFunc("/version.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "{\"version\":%q}\n", *version)
	})
	mux.HandleFunc("/resources/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprintf(w, "png placeholder for %s\n", r.URL.Path)
	})

	log.Printf("demo-origin %s listening on %s", *version, *addr)
	log.Fatal(http.ListenAndServe(*addr, mux))
}
