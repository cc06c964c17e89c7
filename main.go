package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"

	"collabboard-server/access"
	"collabboard-server/auth"
	"collabboard-server/collab"
	"collabboard-server/handlers/api/blobs"
	"collabboard-server/handlers/api/boards"
	"collabboard-server/handlers/websocket"
	authMiddleware "collabboard-server/middleware"
	"collabboard-server/stores"
)

func setupRouter(store stores.Store, registry *collab.Registry, saver *collab.Saver, gate *access.Gatekeeper) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	corsOptions := cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			return localOrigin(origin)
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	r.Use(cors.Handler(corsOptions))

	r.Group(func(r chi.Router) {
		if auth.Enabled() {
			r.Use(authMiddleware.AuthJWT)
		}

		r.Route("/api/boards", func(r chi.Router) {
			r.Post("/", boards.HandleCreateBoard(store))
			r.Post("/save", boards.HandleSaveBoard(store, gate, saver))
			r.Post("/get", boards.HandleGetBoard(gate, saver))
			r.Get("/user/{userId}", boards.HandleListBoards(store))
			r.Route("/{boardId}", func(r chi.Router) {
				r.Get("/", boards.HandleGetDetails(store))
				r.Put("/canvas", boards.HandleUpdateCanvas(store, registry))
				r.Post("/share", boards.HandleShareBoard(gate))
			})
		})
	})

	r.Get("/api/blobs/*", blobs.HandleGetBlob(store))

	r.Get("/api/active", func(w http.ResponseWriter, r *http.Request) {
		type activeBoard struct {
			ID       string `json:"id"`
			Sessions int    `json:"sessions"`
		}
		active := make([]activeBoard, 0)
		for _, id := range registry.ActiveBoards() {
			active = append(active, activeBoard{ID: id, Sessions: len(registry.Sessions(id))})
		}
		sort.Slice(active, func(i, j int) bool {
			if active[i].Sessions == active[j].Sessions {
				return active[i].ID < active[j].ID
			}
			return active[i].Sessions > active[j].Sessions
		})
		render.JSON(w, r, active)
	})

	return r
}

// localOrigin reports whether origin is an http(s) URL on a loopback
// host. url.Hostname() strips the brackets off an IPv6 host, so the
// bare "::1" is the form to match.
func localOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch parsed.Scheme {
	case "http", "https":
		switch parsed.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
	}
	return false
}

func waitForShutdown(ioo *socketio.Server, saver *collab.Saver) {
	exit := make(chan struct{})
	SignalC := make(chan os.Signal, 1)

	signal.Notify(SignalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range SignalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	fmt.Println("Shutting down...")

	// Flush every live board before the sockets go away.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	saver.SaveAll(ctx)

	ioo.Close(nil)
	os.Exit(0)
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddr := flag.String("listen", ":3002", "Set the server listen address")
	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	saveInterval := flag.Duration("save-interval", collab.DefaultSaveInterval, "Interval between automatic board snapshots")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	auth.Init()
	store := stores.GetStore()

	registry := collab.NewRegistry(store)
	saver := collab.NewSaver(registry, store, store, *saveInterval)
	gate := access.NewGatekeeper(store)

	saverCtx, cancelSaver := context.WithCancel(context.Background())
	defer cancelSaver()
	go saver.Run(saverCtx)

	r := setupRouter(store, registry, saver, gate)
	ioo := websocket.SetupSocketIO(registry, saver)
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddr, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(ioo, saver)
}
