package licenses

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"pubarmour/internal/pkg/random"
)

const (
	keyPrefix     = "PA-"
	keySerialSize = 10 // random bytes; 20 hex chars on the wire
	maxBatchSize  = 50
	lockStripes   = 64
)

var ErrBadBatchSize = errors.New("count must be between 1 and 50")

type Service struct {
	repo  *Repository
	locks [lockStripes]sync.Mutex
	now   func() time.Time
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// ValidateAndConsume runs the license checks in order, short-circuiting on
// the first failure, and on success binds the device (first use) and
// increments the usage counter. Mutation of one key is serialized through a
// striped lock so two concurrent first-uses cannot bind two devices.
func (s *Service) ValidateAndConsume(keyID, deviceID string) Result {
	lock := s.lockFor(keyID)
	lock.Lock()
	defer lock.Unlock()

	k, err := s.repo.Get(keyID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Error().Err(err).Msg("license lookup failed")
		}
		return Result{Reason: ReasonInvalid}
	}

	if !k.Active {
		return Result{Reason: ReasonRevoked}
	}
	if s.now().Unix() > k.ExpiresAt {
		return Result{Reason: ReasonExpired}
	}
	if k.MaxUses != nil && k.Uses >= *k.MaxUses {
		return Result{Reason: ReasonUsed}
	}

	if k.BoundDevice == nil {
		if err := s.repo.Consume(keyID, deviceID); err != nil {
			log.Error().Err(err).Msg("license bind failed")
			return Result{Reason: ReasonInvalid}
		}
		return Result{OK: true, FirstBinding: true}
	}

	if *k.BoundDevice != deviceID {
		return Result{Reason: ReasonDeviceMismatch}
	}

	if err := s.repo.Consume(keyID, deviceID); err != nil {
		log.Error().Err(err).Msg("license consume failed")
		return Result{Reason: ReasonInvalid}
	}
	return Result{OK: true}
}

func (s *Service) Issue(durationHours int, note string, maxUses *int) (*Key, error) {
	now := s.now()
	k := &Key{
		ID:        keyPrefix + random.UpperHex(keySerialSize),
		Active:    true,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(time.Duration(durationHours) * time.Hour).Unix(),
		Uses:      0,
		MaxUses:   maxUses,
		Note:      note,
	}
	if err := s.repo.Create(k); err != nil {
		return nil, err
	}
	return k, nil
}

func (s *Service) IssueBatch(count, durationHours int, note string, maxUses *int) ([]*Key, error) {
	if count < 1 || count > maxBatchSize {
		return nil, ErrBadBatchSize
	}

	keys := make([]*Key, 0, count)
	for i := 0; i < count; i++ {
		k, err := s.Issue(durationHours, note, maxUses)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *Service) Revoke(keyID string) error {
	return s.repo.SetActive(keyID, false)
}

func (s *Service) ResetDevice(keyID string) error {
	return s.repo.ClearBinding(keyID)
}

func (s *Service) Delete(keyID string) error {
	return s.repo.Delete(keyID)
}

func (s *Service) List() ([]Status, error) {
	keys, err := s.repo.List()
	if err != nil {
		return nil, err
	}

	now := s.now()
	statuses := make([]Status, 0, len(keys))
	for _, k := range keys {
		statuses = append(statuses, k.status(now))
	}
	return statuses, nil
}

func (s *Service) Counts() (total, active int, err error) {
	return s.repo.Counts(s.now().Unix())
}

func (s *Service) lockFor(keyID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(keyID))
	return &s.locks[h.Sum32()%lockStripes]
}
