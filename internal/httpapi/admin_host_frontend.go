package httpapi

import (
	"archive/zip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/nanoedge/nanoedgert/internal/apperr"
	"github.com/nanoedge/nanoedgert/internal/domain"
)

const maxHostFrontendUpload = 32 << 20 // 32MiB, generous for a bundled SPA plus server script

// adminHostFrontend is spec §6.3's multipart bundling endpoint: it accepts
// a server script and a zipped static bundle, extracts the bundle into
// static/<serviceName>/, and registers a Service whose code is the server
// script and whose permissions.read grants it that static directory.
func (h *Handler) adminHostFrontend(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxHostFrontendUpload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	serviceName := strings.TrimSpace(r.FormValue("serviceName"))
	if serviceName == "" {
		writeError(w, http.StatusBadRequest, apperr.Wrap(apperr.InvalidInput, `"serviceName" is required`))
		return
	}

	serverFile, _, err := r.FormFile("server")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("reading \"server\" field: %w", err))
		return
	}
	defer serverFile.Close()
	code, err := io.ReadAll(serverFile)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	staticFile, staticHeader, err := r.FormFile("static")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("reading \"static\" field: %w", err))
		return
	}
	defer staticFile.Close()

	destDir := filepath.Join(h.staticDir, serviceName)
	if err := extractZipUpload(staticFile, staticHeader.Size, destDir); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	staticURL := fmt.Sprintf("/static/%s/", serviceName)
	svc := domain.Service{
		Name:        serviceName,
		Code:        string(code),
		Enabled:     true,
		Permissions: domain.Permissions{Read: []string{staticURL}},
	}
	created, err := h.store.CreateService(r.Context(), svc)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// extractZipUpload extracts a zip archive into destDir, rejecting any entry
// whose cleaned path would escape destDir (a classic zip-slip path, which a
// single-operator upload endpoint must still not trust blindly).
func extractZipUpload(r io.ReaderAt, size int64, destDir string) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return fmt.Errorf("invalid zip archive: %w", err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	for _, f := range zr.File {
		target := filepath.Join(destDir, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) && target != filepath.Clean(destDir) {
			return fmt.Errorf("zip entry %q escapes destination directory", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractZipEntry(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode())
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
