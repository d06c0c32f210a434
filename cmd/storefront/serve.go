package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	storefront "github.com/Prismer-AI/Prismer/sdk/storefront"
)

var serveListen string

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Address to listen on (overrides worker.listen)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the offline worker",
	Long:  "Install and activate the worker, then intercept requests and serve the worker control endpoints until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)
		metrics := storefront.NewMetrics()

		w, err := openWorker(cfg, log, metrics)
		if err != nil {
			return err
		}
		defer w.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := w.Install(ctx)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"seeded": len(report.Seeded),
			"failed": len(report.Failed),
		}).Info("worker installed")
		w.Start()

		router, err := newRouter(w, cfg.Push.Secret, metrics, log)
		if err != nil {
			return err
		}

		addr := serveListen
		if addr == "" {
			addr = valueOrDefault(cfg.Worker.Listen, defaultListen)
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.WithField("addr", addr).Info("worker listening")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
		return nil
	},
}

// newRouter mounts the worker control endpoints and intercepts everything else.
func newRouter(w *storefront.Worker, pushSecret string, metrics *storefront.Metrics, log logrus.FieldLogger) (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle(storefront.BusPath, w.Bus())
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/__worker").Subrouter()
	api.HandleFunc("/message", func(rw http.ResponseWriter, req *http.Request) {
		var msg storefront.ControlMessage
		if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid message"})
			return
		}
		if err := w.Message(req.Context(), msg); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, storefront.ErrUnknownMessage) {
				status = http.StatusBadRequest
			}
			writeJSON(rw, status, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]bool{"ok": true})
	}).Methods(http.MethodPost)

	api.HandleFunc("/sync/{tag}", func(rw http.ResponseWriter, req *http.Request) {
		tag := mux.Vars(req)["tag"]
		if tag != storefront.TagSyncCart && tag != storefront.TagSyncOrders {
			writeJSON(rw, http.StatusNotFound, map[string]string{"error": "unknown sync tag"})
			return
		}
		w.RegisterSync(tag)
		writeJSON(rw, http.StatusAccepted, map[string]any{"registered": tag, "online": w.Connectivity().IsOnline()})
	}).Methods(http.MethodPost)

	api.HandleFunc("/online", func(rw http.ResponseWriter, req *http.Request) {
		w.SetOnline(true)
		writeJSON(rw, http.StatusOK, map[string]bool{"online": true})
	}).Methods(http.MethodPost)

	api.HandleFunc("/offline", func(rw http.ResponseWriter, req *http.Request) {
		w.SetOnline(false)
		writeJSON(rw, http.StatusOK, map[string]bool{"online": false})
	}).Methods(http.MethodPost)

	if pushSecret != "" {
		wh, err := storefront.NewPushWebhook(pushSecret, w.Push)
		if err != nil {
			return nil, err
		}
		api.Handle("/push", wh.HTTPHandler()).Methods(http.MethodPost)
	} else {
		log.Warn("push.secret not set, push webhook disabled")
	}

	api.HandleFunc("/notificationclick", func(rw http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "Failed to read body"})
			return
		}
		var click storefront.NotificationClick
		if len(body) > 0 {
			if err := json.Unmarshal(body, &click); err != nil {
				writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid click"})
				return
			}
		}
		dest, err := w.Click(req.Context(), click)
		if err != nil {
			writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]string{"url": dest})
	}).Methods(http.MethodPost)

	api.HandleFunc("/status", func(rw http.ResponseWriter, req *http.Request) {
		st, err := w.Status(req.Context())
		if err != nil {
			writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, st)
	}).Methods(http.MethodGet)

	r.PathPrefix("/").Handler(w)
	return r, nil
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
