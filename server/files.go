package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/petal-labs/monkeyml/eval"
	"github.com/petal-labs/monkeyml/session"
	"github.com/petal-labs/monkeyml/template"
)

const notFoundBody = "Not found\r\n"

var errOutsideRoot = errors.New("path escapes root")

func writeNotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, notFoundBody)
}

// resolve maps a request path to a regular file inside the root. The file
// is canonicalized with symlinks resolved before the containment check.
func (s *Server) resolve(urlPath string) (string, error) {
	rel := strings.TrimPrefix(urlPath, "/")
	if rel == "" {
		rel = s.index
	}

	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", err
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return "", err
	}

	target, err := filepath.EvalSymlinks(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return "", err
	}
	within, err := filepath.Rel(root, target)
	if err != nil {
		return "", err
	}
	if within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", errOutsideRoot
	}

	info, err := os.Stat(target)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s: not a regular file", target)
	}
	return target, nil
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeNotFound(w)
		return
	}

	path, err := s.resolve(r.URL.Path)
	if err != nil {
		s.logger.Debug("file not served", "path", r.URL.Path, "error", err)
		writeNotFound(w)
		return
	}

	// #nosec G304 -- path is canonicalized and confined to the root above.
	content, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("read file", "path", path, "error", err)
		writeNotFound(w)
		return
	}

	if !template.IsTemplate(path) {
		w.Header().Set("Content-Type", contentType(path, content))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content)
		return
	}

	seed := map[string]eval.Value{
		"get":  template.Params(r.URL.Query()),
		"post": eval.NewHash(),
	}
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds size limit")
				return
			}
			writeError(w, http.StatusBadRequest, "BAD_FORM", err.Error())
			return
		}
		seed["post"] = template.Params(r.PostForm)
	}

	out, err := s.render(r.Context(), r.URL.Path, string(content), seed)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.logger.Info("request abandoned", "path", r.URL.Path, "error", err)
			return
		}
		s.logger.Error("render template", "path", path, "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "Internal server error\r\n")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// render parses a template and evaluates it on the pool in a fresh http
// session.
func (s *Server) render(ctx context.Context, name, src string, seed map[string]eval.Value) ([]byte, error) {
	prog, err := template.Parse(src)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = s.pool.Do(ctx, func() error {
		sess := session.New(session.OriginHTTP, session.Options{
			Name:                  name,
			Seed:                  seed,
			EventHandler:          s.sessionEvents,
			EventBus:              s.bus,
			EventEmitterDecorator: s.emitDecorator,
		})
		_, evalErr := sess.EvalProgram(prog, &buf)
		sess.Close(evalErr)
		return evalErr
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func contentType(path string, content []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return http.DetectContentType(content)
}
