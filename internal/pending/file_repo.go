package pending

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Diyago/tg-bot-analyse/internal/auth"
)

// Request is a user waiting for the primary admin's access decision.
type Request struct {
	User        auth.User `json:"user"`
	RequestedAt time.Time `json:"requested_at"`
}

type Repository interface {
	LoadAll() ([]Request, error)
	Upsert(req Request) error
	Remove(userID int64) error
}

type FileRepository struct {
	path string
	mu   sync.Mutex
}

func NewFileRepository(path string) (*FileRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("touch file: %w", err)
	}
	_ = f.Close()
	return &FileRepository{path: path}, nil
}

func (r *FileRepository) LoadAll() ([]Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer func(f *os.File) {
		err := f.Close()
		if err != nil {
		}
	}(f)
	var reqs []Request
	dec := json.NewDecoder(f)
	if err := dec.Decode(&reqs); err != nil {
		if err == io.EOF {
			return []Request{}, nil
		}
		return []Request{}, nil
	}
	return reqs, nil
}

func (r *FileRepository) Upsert(req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reqs, _ := r.loadUnlocked()
	updated := false
	for i, q := range reqs {
		if q.User.ID == req.User.ID {
			reqs[i] = req
			updated = true
			break
		}
	}
	if !updated {
		reqs = append(reqs, req)
	}
	return r.saveUnlocked(reqs)
}

func (r *FileRepository) Remove(userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reqs, _ := r.loadUnlocked()
	var out []Request
	for _, q := range reqs {
		if q.User.ID != userID {
			out = append(out, q)
		}
	}
	return r.saveUnlocked(out)
}

func (r *FileRepository) loadUnlocked() ([]Request, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		err := f.Close()
		if err != nil {
		}
	}(f)
	var reqs []Request
	dec := json.NewDecoder(f)
	if err := dec.Decode(&reqs); err != nil {
		return []Request{}, nil
	}
	return reqs, nil
}

func (r *FileRepository) saveUnlocked(reqs []Request) error {
	f, err := os.OpenFile(r.path, os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func(f *os.File) {
		err := f.Close()
		if err != nil {
		}
	}(f)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(reqs)
}
