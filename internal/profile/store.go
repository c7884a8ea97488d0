package profile

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kbsearch/backend/internal/storage/models"
	"github.com/kbsearch/backend/internal/storage/sqlite"
	"github.com/kbsearch/backend/internal/toolerr"
	"github.com/kbsearch/backend/pkg/logger"
)

// Store manages versioned configuration profiles. Profiles are never
// mutated in place: once a chunk or query references one, changes create a
// new profile row plus a change-log entry.
type Store struct {
	db *sqlite.Client
}

// CreateRequest carries everything Create needs. ParentID is optional and
// records lineage only. WeightTotal is what the vector and lexical weights
// must sum to; zero means the default of 1.0.
type CreateRequest struct {
	Name        string
	Version     string
	ParentID    string
	Provider    models.ProviderConfig
	Chunking    models.ChunkingConfig
	Retrieval   models.RetrievalConfig
	Generation  models.GenerationConfig
	System      models.SystemConfig
	WeightTotal float64
	Activate    bool
	CreatedBy   string
}

func NewStore(db *sqlite.Client) *Store {
	return &Store{db: db}
}

func (s *Store) Create(req CreateRequest) (*models.Profile, error) {
	if req.Name == "" {
		return nil, toolerr.NewValidation("name", "profile name is required")
	}
	if req.Version == "" {
		return nil, toolerr.NewValidation("version", "profile version is required")
	}
	if req.Provider.EmbeddingModel == "" || req.Provider.EmbeddingDim <= 0 {
		return nil, toolerr.NewValidation("provider", "embedding model and dimension are required")
	}
	if req.Chunking.ChunkSize <= 0 {
		return nil, toolerr.NewValidation("chunking", "chunk size must be positive")
	}
	if req.Retrieval.VectorWeight < 0 || req.Retrieval.LexicalWeight < 0 {
		return nil, toolerr.NewValidation("retrieval", "weights must be non-negative")
	}
	total := req.WeightTotal
	if total == 0 {
		total = 1.0
	}
	if math.Abs(req.Retrieval.VectorWeight+req.Retrieval.LexicalWeight-total) > 1e-6 {
		return nil, toolerr.NewValidation("retrieval",
			fmt.Sprintf("vector and lexical weights must sum to %g", total))
	}
	if req.System.TimeoutSec <= 0 {
		return nil, toolerr.NewValidation("system", "timeout must be positive")
	}

	if req.ParentID != "" {
		if _, err := s.db.GetProfile(req.ParentID); err != nil {
			return nil, err
		}
	}

	p := &models.Profile{
		ID:         uuid.New().String(),
		Name:       req.Name,
		Version:    req.Version,
		ParentID:   req.ParentID,
		Provider:   req.Provider,
		Chunking:   req.Chunking,
		Retrieval:  req.Retrieval,
		Generation: req.Generation,
		System:     req.System,
		Active:     req.Activate,
		CreatedBy:  req.CreatedBy,
		CreatedAt:  time.Now(),
	}

	if req.Activate {
		// A name has at most one active version at a time.
		if err := s.db.DeactivateProfiles(req.Name); err != nil {
			return nil, err
		}
	}

	if err := s.db.InsertProfile(p); err != nil {
		return nil, err
	}

	return p, nil
}

func (s *Store) Get(id string) (*models.Profile, error) {
	return s.db.GetProfile(id)
}

func (s *Store) GetActive(name string) (*models.Profile, error) {
	return s.db.GetActiveProfile(name)
}

// Referenced reports whether any chunk or query pins the profile. A
// referenced profile is frozen: tuning continues in a successor version.
func (s *Store) Referenced(id string) (bool, error) {
	return s.db.ProfileReferenced(id)
}

// RecordChange logs a parameter delta against a profile. Referenced profiles
// stay frozen; the change log documents what the successor profile altered,
// so a change may only be recorded while the profile is still unreferenced.
func (s *Store) RecordChange(profileID, parameterPath, oldValue, newValue, reason string) error {
	if _, err := s.db.GetProfile(profileID); err != nil {
		return err
	}

	referenced, err := s.Referenced(profileID)
	if err != nil {
		return err
	}
	if referenced {
		return toolerr.NewValidation("profileId",
			"profile is referenced by existing data; record the change on a successor version")
	}

	change := &models.ProfileChange{
		ProfileID:     profileID,
		ParameterPath: parameterPath,
		OldValue:      oldValue,
		NewValue:      newValue,
		Reason:        reason,
	}

	if err := s.db.InsertProfileChange(change); err != nil {
		return err
	}

	logger.Info("Profile change recorded",
		zap.String("profile_id", profileID),
		zap.String("parameter", parameterPath),
	)

	return nil
}
