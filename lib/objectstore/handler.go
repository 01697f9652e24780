// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"errors"
	"net/http"
)

// Handler serves signed URLs produced by SignedURL. Responses:
// 200 with the object, 403 for a bad signature, 410 for an expired
// URL, 404 for a missing object.
func (f *Filesystem) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /objects/{bucket}/{key...}", f.serveObject)
	return mux
}

func (f *Filesystem) serveObject(writer http.ResponseWriter, request *http.Request) {
	bucket := request.PathValue("bucket")
	key := request.PathValue("key")
	query := request.URL.Query()

	if err := validateObject(bucket, key); err != nil {
		http.Error(writer, "not found", http.StatusNotFound)
		return
	}

	switch err := f.Verify(bucket, key, query.Get("expires"), query.Get("signature")); {
	case errors.Is(err, ErrExpired):
		f.logger.Info("rejected expired object URL", "bucket", bucket, "key", key)
		http.Error(writer, "signed URL expired", http.StatusGone)
		return
	case err != nil:
		f.logger.Warn("rejected object URL with bad signature", "bucket", bucket, "key", key,
			"remote_addr", request.RemoteAddr)
		http.Error(writer, "forbidden", http.StatusForbidden)
		return
	}

	data, err := f.Open(bucket, key)
	if errors.Is(err, ErrNotFound) {
		http.Error(writer, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		f.logger.Error("reading object", "bucket", bucket, "key", key, "error", err)
		http.Error(writer, "internal error", http.StatusInternalServerError)
		return
	}

	writer.Header().Set("Content-Type", "application/octet-stream")
	writer.Header().Set("Cache-Control", "no-store")
	writer.Write(data)
}
