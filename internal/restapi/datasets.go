package restapi

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
)

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true}

// resolveDatasetPath joins root with the caller-supplied, slash-separated
// path segments and rejects anything that escapes root after cleaning.
func resolveDatasetPath(root string, segments ...string) (string, bool) {
	clean := filepath.Clean(filepath.Join(append([]string{root}, segments...)...))
	rootClean := filepath.Clean(root)
	if clean != rootClean && !strings.HasPrefix(clean, rootClean+string(filepath.Separator)) {
		return "", false
	}
	return clean, true
}

func listDirs(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func listImages(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// handleDatasetsList returns the top-level dataset directories under
// config.Gateway.DatasetRoot.
func handleDatasetsList(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := listDirs(d.Config.DatasetRoot)
		if err != nil {
			writeError(w, http.StatusNotFound, "dataset root unavailable: "+err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"datasets": names})
	}
}

// handleDatasetSubjects lists the subject subdirectories of one dataset.
func handleDatasetSubjects(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		path, ok := resolveDatasetPath(d.Config.DatasetRoot, name)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid dataset name")
			return
		}
		subjects, err := listDirs(path)
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown dataset: "+name)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"dataset": name, "subjects": subjects})
	}
}

// handleDatasetImages lists image files directly under a dataset (or, via
// ?subject=, under one subject subdirectory).
func handleDatasetImages(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		segments := []string{name}
		if subject := r.URL.Query().Get("subject"); subject != "" {
			segments = append(segments, subject)
		}
		path, ok := resolveDatasetPath(d.Config.DatasetRoot, segments...)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid dataset path")
			return
		}
		images, err := listImages(path)
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown dataset path")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"dataset": name, "images": images})
	}
}

// datasetPathsBody selects a dataset (optionally scoped to subjects) and
// resolves it to the absolute file paths POST /enroll/batch expects.
type datasetPathsBody struct {
	Dataset  string   `json:"dataset"`
	Subjects []string `json:"subjects,omitempty"`
}

func handleDatasetPaths(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body datasetPathsBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Dataset == "" {
			writeError(w, http.StatusBadRequest, "dataset is required")
			return
		}

		subjects := body.Subjects
		if len(subjects) == 0 {
			datasetPath, ok := resolveDatasetPath(d.Config.DatasetRoot, body.Dataset)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid dataset name")
				return
			}
			found, err := listDirs(datasetPath)
			if err != nil {
				writeError(w, http.StatusNotFound, "unknown dataset: "+body.Dataset)
				return
			}
			subjects = found
		}

		var paths []string
		for _, subject := range subjects {
			subjectPath, ok := resolveDatasetPath(d.Config.DatasetRoot, body.Dataset, subject)
			if !ok {
				continue
			}
			images, err := listImages(subjectPath)
			if err != nil {
				continue
			}
			for _, img := range images {
				paths = append(paths, filepath.Join(subjectPath, img))
			}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{"paths": paths, "count": len(paths)})
	}
}
