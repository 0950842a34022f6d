package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/outpost-sh/outpost/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketAgents       = []byte("agents")
	bucketAgentNames   = []byte("agent_names") // name -> id index
	bucketTokens       = []byte("enrollment_tokens")
	bucketAPIKeys      = []byte("api_keys")
	bucketSessions     = []byte("sessions")
	bucketAccessGroups = []byte("access_groups")
	bucketUsers        = []byte("users")
	bucketCA           = []byte("ca")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "outpost.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketAgents,
			bucketAgentNames,
			bucketTokens,
			bucketAPIKeys,
			bucketSessions,
			bucketAccessGroups,
			bucketUsers,
			bucketCA,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Agent operations

func (s *BoltStore) CreateAgent(agent *types.Agent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket(bucketAgentNames)
		if existing := names.Get([]byte(agent.Name)); existing != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateName, agent.Name)
		}

		b := tx.Bucket(bucketAgents)
		data, err := json.Marshal(agent)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(agent.ID), data); err != nil {
			return err
		}
		return names.Put([]byte(agent.Name), []byte(agent.ID))
	})
}

func (s *BoltStore) GetAgent(id string) (*types.Agent, error) {
	var agent types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("agent %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &agent)
	})
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *BoltStore) GetAgentByName(name string) (*types.Agent, error) {
	var agent types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketAgentNames).Get([]byte(name))
		if id == nil {
			return fmt.Errorf("agent %s: %w", name, ErrNotFound)
		}
		data := tx.Bucket(bucketAgents).Get(id)
		if data == nil {
			return fmt.Errorf("agent %s: %w", name, ErrNotFound)
		}
		return json.Unmarshal(data, &agent)
	})
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *BoltStore) ListAgents() ([]*types.Agent, error) {
	var agents []*types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		return b.ForEach(func(k, v []byte) error {
			var agent types.Agent
			if err := json.Unmarshal(v, &agent); err != nil {
				return err
			}
			agents = append(agents, &agent)
			return nil
		})
	})
	return agents, err
}

func (s *BoltStore) UpdateAgent(agent *types.Agent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		if b.Get([]byte(agent.ID)) == nil {
			return fmt.Errorf("agent %s: %w", agent.ID, ErrNotFound)
		}
		data, err := json.Marshal(agent)
		if err != nil {
			return err
		}
		return b.Put([]byte(agent.ID), data)
	})
}

func (s *BoltStore) DeleteAgent(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgents)
		data := b.Get([]byte(id))
		if data != nil {
			var agent types.Agent
			if err := json.Unmarshal(data, &agent); err == nil {
				if err := tx.Bucket(bucketAgentNames).Delete([]byte(agent.Name)); err != nil {
					return err
				}
			}
		}
		return b.Delete([]byte(id))
	})
}

// Enrollment token operations

func (s *BoltStore) CreateEnrollmentToken(token *types.EnrollmentToken) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		data, err := json.Marshal(token)
		if err != nil {
			return err
		}
		return b.Put([]byte(token.Token), data)
	})
}

func (s *BoltStore) GetEnrollmentToken(token string) (*types.EnrollmentToken, error) {
	var et types.EnrollmentToken
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTokens).Get([]byte(token))
		if data == nil {
			return fmt.Errorf("enrollment token: %w", ErrNotFound)
		}
		return json.Unmarshal(data, &et)
	})
	if err != nil {
		return nil, err
	}
	return &et, nil
}

func (s *BoltStore) ListEnrollmentTokens() ([]*types.EnrollmentToken, error) {
	var tokens []*types.EnrollmentToken
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		return b.ForEach(func(k, v []byte) error {
			var et types.EnrollmentToken
			if err := json.Unmarshal(v, &et); err != nil {
				return err
			}
			tokens = append(tokens, &et)
			return nil
		})
	})
	return tokens, err
}

// RedeemEnrollmentToken marks the token consumed inside a single write
// transaction. BoltDB serializes writers, so two concurrent redeemers
// cannot both observe an unused token: the loser gets ErrTokenUsed.
func (s *BoltStore) RedeemEnrollmentToken(token, agentName string, now time.Time) (*types.EnrollmentToken, error) {
	var et types.EnrollmentToken
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		data := b.Get([]byte(token))
		if data == nil {
			return fmt.Errorf("enrollment token: %w", ErrNotFound)
		}
		if err := json.Unmarshal(data, &et); err != nil {
			return err
		}
		if et.UsedAt != nil {
			return ErrTokenUsed
		}
		if now.After(et.ExpiresAt) {
			return ErrTokenExpired
		}

		used := now
		et.UsedAt = &used
		et.UsedByAgent = agentName

		updated, err := json.Marshal(&et)
		if err != nil {
			return err
		}
		return b.Put([]byte(token), updated)
	})
	if err != nil {
		return nil, err
	}
	return &et, nil
}

func (s *BoltStore) DeleteEnrollmentToken(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(token))
	})
}

// API key operations

func (s *BoltStore) CreateAPIKey(key *types.APIKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAPIKeys)
		data, err := json.Marshal(key)
		if err != nil {
			return err
		}
		return b.Put([]byte(key.ID), data)
	})
}

func (s *BoltStore) GetAPIKey(id string) (*types.APIKey, error) {
	var key types.APIKey
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAPIKeys).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("api key %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &key)
	})
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *BoltStore) ListAPIKeys() ([]*types.APIKey, error) {
	var keys []*types.APIKey
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAPIKeys)
		return b.ForEach(func(k, v []byte) error {
			var key types.APIKey
			if err := json.Unmarshal(v, &key); err != nil {
				return err
			}
			keys = append(keys, &key)
			return nil
		})
	})
	return keys, err
}

func (s *BoltStore) UpdateAPIKey(key *types.APIKey) error {
	return s.CreateAPIKey(key) // upsert
}

func (s *BoltStore) DeleteAPIKey(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAPIKeys).Delete([]byte(id))
	})
}

// Session operations

func (s *BoltStore) CreateSession(session *types.Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		data, err := json.Marshal(session)
		if err != nil {
			return err
		}
		return b.Put([]byte(session.ID), data)
	})
}

func (s *BoltStore) GetSession(id string) (*types.Session, error) {
	var session types.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSessions).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &session)
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *BoltStore) UpdateSession(session *types.Session) error {
	return s.CreateSession(session)
}

func (s *BoltStore) DeleteSession(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(id))
	})
}

func (s *BoltStore) ListSessions() ([]*types.Session, error) {
	var sessions []*types.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		return b.ForEach(func(k, v []byte) error {
			var session types.Session
			if err := json.Unmarshal(v, &session); err != nil {
				return err
			}
			sessions = append(sessions, &session)
			return nil
		})
	})
	return sessions, err
}

// Access group operations

func (s *BoltStore) CreateAccessGroup(group *types.AccessGroup) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccessGroups)
		data, err := json.Marshal(group)
		if err != nil {
			return err
		}
		return b.Put([]byte(group.ID), data)
	})
}

func (s *BoltStore) GetAccessGroup(id string) (*types.AccessGroup, error) {
	var group types.AccessGroup
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAccessGroups).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("access group %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &group)
	})
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (s *BoltStore) ListAccessGroups() ([]*types.AccessGroup, error) {
	var groups []*types.AccessGroup
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccessGroups)
		return b.ForEach(func(k, v []byte) error {
			var group types.AccessGroup
			if err := json.Unmarshal(v, &group); err != nil {
				return err
			}
			groups = append(groups, &group)
			return nil
		})
	})
	return groups, err
}

func (s *BoltStore) ListAccessGroupsForUser(userID string) ([]*types.AccessGroup, error) {
	groups, err := s.ListAccessGroups()
	if err != nil {
		return nil, err
	}

	var assigned []*types.AccessGroup
	for _, group := range groups {
		for _, uid := range group.UserIDs {
			if uid == userID {
				assigned = append(assigned, group)
				break
			}
		}
	}
	return assigned, nil
}

func (s *BoltStore) UpdateAccessGroup(group *types.AccessGroup) error {
	return s.CreateAccessGroup(group)
}

func (s *BoltStore) DeleteAccessGroup(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccessGroups).Delete([]byte(id))
	})
}

// User operations

func (s *BoltStore) CreateUser(user *types.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		return b.Put([]byte(user.ID), data)
	})
}

func (s *BoltStore) GetUser(id string) (*types.User, error) {
	var user types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *BoltStore) GetUserByEmail(email string) (*types.User, error) {
	var found *types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var user types.User
			if err := json.Unmarshal(v, &user); err != nil {
				return err
			}
			if user.Email == email {
				found = &user
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) ListUsers() ([]*types.User, error) {
	var users []*types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var user types.User
			if err := json.Unmarshal(v, &user); err != nil {
				return err
			}
			users = append(users, &user)
			return nil
		})
	})
	return users, err
}

// Certificate Authority operations

func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		// Fixed key "ca" for the singleton CA record
		return b.Put([]byte("ca"), data)
	})
}

func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		stored := b.Get([]byte("ca"))
		if stored == nil {
			return fmt.Errorf("ca: %w", ErrNotFound)
		}
		// Copy since BoltDB data is only valid during the transaction
		data = make([]byte, len(stored))
		copy(data, stored)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
