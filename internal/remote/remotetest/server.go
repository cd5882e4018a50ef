// Package remotetest runs an in-process processing server for tests.
package remotetest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

type Server struct {
	*httptest.Server

	mu sync.Mutex
	// JobID is returned from /api/predict.
	JobID string
	// Artifact is split into ChunkSize pieces for download.
	Artifact  []byte
	ChunkSize int
	// ReportedSize overrides file_size in download_info when non-zero.
	ReportedSize int64

	PredictStatus int
	FailChunks    map[int]int

	Uploads   [][]byte
	Filenames []string
}

func NewServer(jobID string, artifact []byte, chunkSize int) *Server {
	s := &Server{
		JobID:      jobID,
		Artifact:   artifact,
		ChunkSize:  chunkSize,
		FailChunks: map[int]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/predict", s.predict)
	mux.HandleFunc("/api/download_info/", s.info)
	mux.HandleFunc("/api/download_chunk/", s.chunk)
	s.Server = httptest.NewServer(mux)
	return s
}

func (s *Server) predict(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.PredictStatus != 0 {
		w.WriteHeader(s.PredictStatus)
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, _ := io.ReadAll(file)
	s.Uploads = append(s.Uploads, data)
	s.Filenames = append(s.Filenames, header.Filename)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"job_id": s.JobID})
}

func (s *Server) numChunks() int {
	if s.ChunkSize <= 0 {
		return 0
	}
	return (len(s.Artifact) + s.ChunkSize - 1) / s.ChunkSize
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimPrefix(r.URL.Path, "/api/download_info/") != s.JobID {
		http.NotFound(w, r)
		return
	}
	size := int64(len(s.Artifact))
	if s.ReportedSize != 0 {
		size = s.ReportedSize
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"file_size":  size,
		"chunk_size": s.ChunkSize,
		"num_chunks": s.numChunks(),
		"filename":   "output.ply",
	})
}

func (s *Server) chunk(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/download_chunk/"), "/")
	if len(parts) != 2 || parts[0] != s.JobID {
		http.NotFound(w, r)
		return
	}
	index, err := strconv.Atoi(parts[1])
	if err != nil || index < 0 || index >= s.numChunks() {
		http.NotFound(w, r)
		return
	}
	if code, ok := s.FailChunks[index]; ok {
		w.WriteHeader(code)
		return
	}
	start := index * s.ChunkSize
	end := start + s.ChunkSize
	if end > len(s.Artifact) {
		end = len(s.Artifact)
	}
	_, _ = w.Write(s.Artifact[start:end])
}
