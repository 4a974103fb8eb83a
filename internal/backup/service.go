package backup

// DefaultRetention is the number of incremental backup copies kept before
// the oldest are evicted. On-demand archives are never auto-evicted.
const DefaultRetention = 20

// Service is the orchestration layer for all backup and restore
// operations. Every call is synchronous and blocking; the caller is
// responsible for not running two operations against the same database
// concurrently (the app layer serializes them with a lock file).
type Service struct {
	verifier    Verifier
	snapshotter Snapshotter
	maintainer  Maintainer
	encryptor   Encryptor
	logger      Logger
	clock       Clock
	retention   int
}

// NewService creates a Service with the provided dependencies.
// encryptor may be nil when archive encryption is not configured.
// A retention of zero or less falls back to DefaultRetention.
func NewService(verifier Verifier, snapshotter Snapshotter, maintainer Maintainer, encryptor Encryptor, logger Logger, clock Clock, retention int) *Service {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Service{
		verifier:    verifier,
		snapshotter: snapshotter,
		maintainer:  maintainer,
		encryptor:   encryptor,
		logger:      logger,
		clock:       clock,
		retention:   retention,
	}
}

// VerifyDatabase runs the integrity checker against the file at path.
func (s *Service) VerifyDatabase(path string) (bool, []string) {
	ok, diagnostics := s.verifier.Check(path)
	if ok {
		s.logger.Info("integrity check passed", "path", path)
	} else {
		s.logger.Warn("integrity check failed", "path", path, "findings", len(diagnostics))
	}
	return ok, diagnostics
}

// RebuildIndexes re-creates the application's known index definitions.
// Best-effort: statement-level failures are logged by the maintainer and
// never fail the call.
func (s *Service) RebuildIndexes(dbPath string) error {
	s.logger.Info("rebuilding indexes", "path", dbPath)
	return s.maintainer.RebuildIndexes(dbPath)
}
