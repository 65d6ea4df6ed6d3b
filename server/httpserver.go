// Copyright 2023 The ZiboFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/common/rpc/auditlog"
	"github.com/cubefs/cubefs/blobstore/util/log"

	"github.com/zibofs/zibofs/metrics"
)

const (
	defaultShutdownTimeoutS      = 10
	defaultReadRequestTimeoutS   = 30
	defaultWriteResponseTimeoutS = 30
)

// HTTPServer wraps a service router with the shared middleware chain:
// request metrics, optional audit logging and the profile handler.
type HTTPServer struct {
	service     string
	router      *rpc.Router
	middlewares []rpc.ProgressHandler
	audit       auditlog.LogCloser

	httpServer *http.Server
}

func NewHTTPServer(service string, router *rpc.Router, auditCfg *auditlog.Config) (*HTTPServer, error) {
	h := &HTTPServer{
		service:     service,
		router:      router,
		middlewares: []rpc.ProgressHandler{newMetricsHandler(service)},
	}
	if auditCfg != nil && auditCfg.LogDir != "" {
		ph, lc, err := auditlog.Open(service, auditCfg)
		if err != nil {
			return nil, err
		}
		h.middlewares = append(h.middlewares, ph)
		h.audit = lc
	}
	return h, nil
}

func (h *HTTPServer) Serve(addr string) {
	ph := profile.NewProfileHandler(addr)
	middlewares := h.middlewares
	if ph != nil {
		middlewares = append(middlewares, ph)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", rpc.MiddlewareHandlerWith(h.router, middlewares...))

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  defaultReadRequestTimeoutS * time.Second,
		WriteTimeout: defaultWriteResponseTimeoutS * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server exits:", err)
		}
	}()
	h.httpServer = httpServer

	log.Info("http server is running at:", addr)
}

func (h *HTTPServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeoutS*time.Second)
	defer cancel()

	h.httpServer.Shutdown(ctx)
	if h.audit != nil {
		h.audit.Close()
	}
}

// metricsHandler records per-request durations labeled by service,
// path and status code.
type metricsHandler struct {
	service string
}

func newMetricsHandler(service string) *metricsHandler {
	return &metricsHandler{service: service}
}

func (m *metricsHandler) Handler(w http.ResponseWriter, req *http.Request, next func(http.ResponseWriter, *http.Request)) {
	sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
	start := time.Now()
	next(sw, req)
	metrics.RequestDuration.
		WithLabelValues(m.service, req.URL.Path, strconv.Itoa(sw.code)).
		Observe(time.Since(start).Seconds())
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
