package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"p9e.in/rdiesel/config"
	"p9e.in/rdiesel/middleware"
	"p9e.in/rdiesel/routes"
)

var (
	Version   = "dev"
	BuildTime = ""
)

func main() {

	versionFlag := flag.Bool("version", false, "Print version info and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("Version:   %s\n", Version)
		fmt.Printf("BuildTime: %s\n", BuildTime)
		os.Exit(0)
	}
	config.Connect()
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	handler := routes.RegisterRoutes()
	handler = middleware.Recover(middleware.RequestLogger(enableCORS(handler)))
	log.Println("Server starting at port", port)
	log.Fatal(http.ListenAndServe(":"+port, handler))
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Required CORS headers for the web dashboard
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		// Handle preflight (OPTIONS)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
