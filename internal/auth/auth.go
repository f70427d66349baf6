package auth

import (
	"fmt"
	"log"
	"sort"
	"sync"
)

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type Repository interface {
	LoadAll() ([]User, error)
	Upsert(user User) error
	Remove(userID int64) error
}

// Service is the bot-level allowlist. Chat-admin status decides what a
// user may do inside a group; the allowlist decides who may talk to the
// bot at all. The primary admin is always a member and cannot be
// removed.
type Service struct {
	mu      sync.RWMutex
	repo    Repository
	users   map[int64]User
	primary int64
}

func NewWithRepo(repo Repository, initial []int64, primary int64) (*Service, error) {
	s := &Service{repo: repo, users: make(map[int64]User), primary: primary}
	// preload from repo
	if repo != nil {
		users, err := repo.LoadAll()
		if err != nil {
			log.Printf("Failed to load allowlist, starting from configured ids: %v", err)
		}
		for _, u := range users {
			s.users[u.ID] = u
		}
	}
	// merge initial IDs (from env) without usernames
	for _, id := range initial {
		if _, ok := s.users[id]; !ok {
			s.users[id] = User{ID: id}
		}
	}
	if primary != 0 {
		if _, ok := s.users[primary]; !ok {
			s.users[primary] = User{ID: primary}
		}
	}
	return s, nil
}

// Contains reports whether the user may talk to the bot.
func (s *Service) Contains(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok
}

func (s *Service) IsPrimary(userID int64) bool {
	return s.primary != 0 && userID == s.primary
}

func (s *Service) PrimaryID() int64 {
	return s.primary
}

// Add grants access and persists the change. Adding an existing user
// refreshes the stored name fields.
func (s *Service) Add(user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	if s.repo != nil {
		return s.repo.Upsert(user)
	}
	return nil
}

// Remove revokes access. The primary admin cannot be removed.
func (s *Service) Remove(userID int64) error {
	if s.IsPrimary(userID) {
		return fmt.Errorf("cannot remove primary admin %d", userID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	if s.repo != nil {
		return s.repo.Remove(userID)
	}
	return nil
}

// List returns the current members ordered by id.
func (s *Service) List() []User {
	s.mu.RLock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
