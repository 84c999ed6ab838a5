package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/k2patel/apcupsd-client/internal/models"
	"github.com/k2patel/apcupsd-client/internal/repository"
)

const (
	defaultNISPort         = 3551
	defaultIntervalSeconds = 30
	minIntervalSeconds     = 5
)

// ErrInvalidConfig classifies rejected device definitions; the concrete
// reason is wrapped around it.
var ErrInvalidConfig = errors.New("invalid ups config")

// ErrUPSNotFound is returned when a named UPS does not exist.
var ErrUPSNotFound = errors.New("ups not found")

// UPSUpdate is a partial update of one UPS entry. Nil fields are left
// unchanged. Name is intentionally absent: identity is immutable and a
// rename is delete + create.
type UPSUpdate struct {
	Host            *string  `json:"host,omitempty"`
	Port            *int     `json:"port,omitempty"`
	IntervalSeconds *int     `json:"interval_seconds,omitempty"`

	AlertLoadPctHigh       *float64 `json:"alert_loadpct_high,omitempty"`
	AlertBChargeLow        *float64 `json:"alert_bcharge_low,omitempty"`
	AlertOnBattery         *bool    `json:"alert_on_battery,omitempty"`
	AlertRuntimeLowMinutes *float64 `json:"alert_runtime_low_minutes,omitempty"`
}

// ConfigService implements ConfigManager over the key/value blob store.
// A mutex serializes read-modify-write cycles on the blob.
type ConfigService struct {
	repo    repository.ConfigRepo
	mu      sync.Mutex
	version atomic.Uint64
}

func NewConfigService(repo repository.ConfigRepo) *ConfigService {
	return &ConfigService{repo: repo}
}

// normalize fills defaults and validates a device definition. Rejection
// happens here, at config-write time; invalid entries never reach the
// scheduler.
func normalize(cfg models.UPSConfig) (models.UPSConfig, error) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	cfg.Host = strings.TrimSpace(cfg.Host)

	if cfg.Name == "" {
		return cfg, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if cfg.Host == "" {
		return cfg, fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if cfg.Port == 0 {
		cfg.Port = defaultNISPort
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, cfg.Port)
	}
	if cfg.IntervalSeconds == 0 {
		cfg.IntervalSeconds = defaultIntervalSeconds
	}
	if cfg.IntervalSeconds < minIntervalSeconds {
		return cfg, fmt.Errorf("%w: interval_seconds must be at least %d", ErrInvalidConfig, minIntervalSeconds)
	}
	return cfg, nil
}

func (s *ConfigService) List(ctx context.Context) ([]models.UPSConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	return cfg.UPS, nil
}

func (s *ConfigService) Get(ctx context.Context, name string) (models.UPSConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.repo.Load(ctx)
	if err != nil {
		return models.UPSConfig{}, false, err
	}
	for _, u := range cfg.UPS {
		if u.Name == name {
			return u, true, nil
		}
	}
	return models.UPSConfig{}, false, nil
}

func (s *ConfigService) Add(ctx context.Context, ups models.UPSConfig) error {
	ups, err := normalize(ups)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.repo.Load(ctx)
	if err != nil {
		return err
	}
	for _, u := range cfg.UPS {
		if u.Name == ups.Name {
			return fmt.Errorf("%w: ups %q already exists", ErrInvalidConfig, ups.Name)
		}
	}
	cfg.UPS = append(cfg.UPS, ups)
	return s.save(ctx, cfg)
}

func (s *ConfigService) Update(ctx context.Context, name string, upd UPSUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.repo.Load(ctx)
	if err != nil {
		return err
	}

	idx := -1
	for i, u := range cfg.UPS {
		if u.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrUPSNotFound
	}

	ups := cfg.UPS[idx]
	if upd.Host != nil {
		ups.Host = *upd.Host
	}
	if upd.Port != nil {
		ups.Port = *upd.Port
	}
	if upd.IntervalSeconds != nil {
		ups.IntervalSeconds = *upd.IntervalSeconds
	}
	if upd.AlertLoadPctHigh != nil {
		ups.AlertLoadPctHigh = upd.AlertLoadPctHigh
	}
	if upd.AlertBChargeLow != nil {
		ups.AlertBChargeLow = upd.AlertBChargeLow
	}
	if upd.AlertOnBattery != nil {
		ups.AlertOnBattery = *upd.AlertOnBattery
	}
	if upd.AlertRuntimeLowMinutes != nil {
		ups.AlertRuntimeLowMinutes = upd.AlertRuntimeLowMinutes
	}

	if ups, err = normalize(ups); err != nil {
		return err
	}
	cfg.UPS[idx] = ups
	return s.save(ctx, cfg)
}

func (s *ConfigService) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.repo.Load(ctx)
	if err != nil {
		return err
	}

	kept := cfg.UPS[:0]
	for _, u := range cfg.UPS {
		if u.Name != name {
			kept = append(kept, u)
		}
	}
	if len(kept) == len(cfg.UPS) {
		return ErrUPSNotFound
	}
	cfg.UPS = kept
	return s.save(ctx, cfg)
}

func (s *ConfigService) SMTP(ctx context.Context) (*models.SMTPConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	return cfg.SMTP, nil
}

func (s *ConfigService) UpdateSMTP(ctx context.Context, smtp models.SMTPConfig) error {
	if strings.TrimSpace(smtp.Host) == "" {
		return fmt.Errorf("%w: smtp host is required", ErrInvalidConfig)
	}
	if smtp.Port < 1 || smtp.Port > 65535 {
		return fmt.Errorf("%w: smtp port %d out of range", ErrInvalidConfig, smtp.Port)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.repo.Load(ctx)
	if err != nil {
		return err
	}
	cfg.SMTP = &smtp
	return s.save(ctx, cfg)
}

func (s *ConfigService) Version() uint64 {
	return s.version.Load()
}

// save persists the blob and bumps the version. Callers hold s.mu.
func (s *ConfigService) save(ctx context.Context, cfg models.AppConfig) error {
	if err := s.repo.Save(ctx, cfg); err != nil {
		return err
	}
	s.version.Add(1)
	return nil
}
