// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-phygital.
//
// go-phygital is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package server

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/jeremyhahn/go-phygital/internal/config"
	"github.com/jeremyhahn/go-phygital/pkg/adapters/audit"
	"github.com/jeremyhahn/go-phygital/pkg/adapters/logger"
	"github.com/jeremyhahn/go-phygital/pkg/crypto/entropy"
	"github.com/jeremyhahn/go-phygital/pkg/device"
	"github.com/jeremyhahn/go-phygital/pkg/eeprom"
	"github.com/jeremyhahn/go-phygital/pkg/health"
	"github.com/jeremyhahn/go-phygital/pkg/storage"
	"github.com/jeremyhahn/go-phygital/pkg/storage/file"
)

// Stack is a device together with the resources it was opened from.
type Stack struct {
	Device *device.Device
	Health *health.Checker
	Audit  *audit.MemoryAuditAdapter

	backend storage.Backend
	entropy entropy.Source
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig, out io.Writer) logger.Logger {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		level = logger.LevelInfo
	}
	return logger.NewSlogAdapter(&logger.SlogConfig{
		Level:  level,
		Format: cfg.Format,
		Output: out,
	})
}

// OpenStack opens storage and entropy and wires a device. The device is
// not booted.
func OpenStack(cfg *config.Config, log logger.Logger) (*Stack, error) {
	return openStack(cfg, log, nil)
}

// openStack opens the file backend on fsys; nil selects the OS filesystem.
func openStack(cfg *config.Config, log logger.Logger, fsys afero.Fs) (*Stack, error) {
	log = logger.OrNoOp(log)

	prefix, err := cfg.URIPrefixCode()
	if err != nil {
		return nil, err
	}

	backend, err := openBackend(cfg.Storage, fsys)
	if err != nil {
		return nil, err
	}

	ee, err := eeprom.Open(backend, storage.EEPROMKey, cfg.Storage.EEPROMSize)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	tagMem, err := eeprom.Open(backend, storage.TagMemoryKey, cfg.Storage.TagMemorySize)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	src, err := entropy.New(cfg.EntropyOptions())
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to open entropy source: %w", err)
	}

	checker := health.NewChecker()
	trail := audit.NewMemoryAuditAdapter(audit.DefaultCapacity)
	d, err := device.New(&device.Config{
		EEPROM:               ee,
		TagMemory:            tagMem,
		Entropy:              src,
		Identifier:           cfg.Device.Identifier,
		URIPrefix:            prefix,
		PollInterval:         cfg.Device.PollInterval,
		MaxCommandsPerSecond: cfg.Device.MaxCommandsPerSecond,
		Health:               checker,
		Audit:                trail,
		Logger:               log,
	})
	if err != nil {
		_ = src.Close()
		_ = backend.Close()
		return nil, err
	}

	log.Debug("device stack opened",
		logger.String("storage", cfg.Storage.Backend),
		logger.String("entropy", cfg.Entropy.Mode))

	return &Stack{Device: d, Health: checker, Audit: trail, backend: backend, entropy: src}, nil
}

func openBackend(cfg config.StorageConfig, fsys afero.Fs) (storage.Backend, error) {
	switch cfg.Backend {
	case config.StorageMemory:
		return storage.NewMemory(), nil
	case config.StorageFile:
		s, err := file.New(fsys, cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

// Images lists the names of the persisted byte images, e.g. "eeprom".
func (s *Stack) Images() ([]string, error) {
	keys, err := s.backend.List(storage.ImagePrefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, strings.TrimSuffix(path.Base(key), ".bin"))
	}
	return names, nil
}

// Image returns the raw bytes of a persisted image.
func (s *Stack) Image(name string) ([]byte, error) {
	return s.backend.Get(storage.ImageKey(name))
}

// Close releases the entropy source and the storage backend.
func (s *Stack) Close() error {
	return errors.Join(s.entropy.Close(), s.backend.Close())
}
