package sqlite

import (
	"database/sql"
	"fmt"

	"soci-backup/internal/backup"
)

// indexDefinitions are the club-management application's known index
// definitions. IF NOT EXISTS keeps re-runs idempotent; statements that
// reference tables absent from an older database are expected to fail and
// are skipped.
var indexDefinitions = []string{
	"CREATE INDEX IF NOT EXISTS idx_soci_attivo ON soci(attivo)",
	"CREATE INDEX IF NOT EXISTS idx_soci_deleted ON soci(deleted_at)",
	"CREATE INDEX IF NOT EXISTS idx_documenti_socio ON documenti(socio_id)",
	"CREATE INDEX IF NOT EXISTS idx_eventi_socio ON eventi_libro_soci(socio_id)",
	"CREATE UNIQUE INDEX IF NOT EXISTS ux_soci_matricola ON soci(matricola) WHERE matricola IS NOT NULL",
	"CREATE INDEX IF NOT EXISTS idx_cd_delibere_cd ON cd_delibere(cd_id)",
	"CREATE INDEX IF NOT EXISTS idx_cd_verbali_cd ON cd_verbali(cd_id)",
	"CREATE INDEX IF NOT EXISTS idx_cd_riunioni_data ON cd_riunioni(data)",
	"CREATE INDEX IF NOT EXISTS idx_cd_mandati_active ON cd_mandati(is_active)",
	"CREATE INDEX IF NOT EXISTS idx_cd_mandati_periodo ON cd_mandati(start_date, end_date)",
	"CREATE INDEX IF NOT EXISTS idx_ponti_stato ON ponti(stato_corrente)",
	"CREATE INDEX IF NOT EXISTS idx_ponti_auth_scadenza ON ponti_authorizations(data_scadenza)",
	"CREATE INDEX IF NOT EXISTS idx_ponti_interventi_data ON ponti_interventi(data)",
	"CREATE UNIQUE INDEX IF NOT EXISTS ux_section_documents_relative_path ON section_documents(relative_path) WHERE deleted_at IS NULL",
	"CREATE UNIQUE INDEX IF NOT EXISTS ux_section_documents_percorso ON section_documents(percorso) WHERE deleted_at IS NULL",
	"CREATE INDEX IF NOT EXISTS idx_section_documents_categoria ON section_documents(categoria)",
	"CREATE INDEX IF NOT EXISTS idx_section_documents_data ON section_documents(data_caricamento)",
	"CREATE UNIQUE INDEX IF NOT EXISTS idx_soci_ruoli_unique ON soci_ruoli(socio_id, ruolo)",
	"CREATE INDEX IF NOT EXISTS idx_magazzino_loans_item ON magazzino_loans(item_id)",
	"CREATE INDEX IF NOT EXISTS idx_magazzino_loans_active ON magazzino_loans(item_id, data_reso)",
	"CREATE INDEX IF NOT EXISTS idx_calendar_start ON calendar_events(start_ts)",
	"CREATE INDEX IF NOT EXISTS idx_calendar_type ON calendar_events(tipo)",
}

// Maintenance implements backup.Maintainer.
type Maintenance struct {
	logger backup.Logger
}

func NewMaintenance(logger backup.Logger) *Maintenance {
	return &Maintenance{logger: logger}
}

// RebuildIndexes re-executes every known index definition against the
// database at path. Statement failures are logged as warnings and do not
// fail the call: a missing index degrades performance, not correctness.
func (m *Maintenance) RebuildIndexes(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	rebuilt := 0
	for _, stmt := range indexDefinitions {
		if _, err := db.Exec(stmt); err != nil {
			m.logger.Warn("index not rebuilt", "error", err)
			continue
		}
		rebuilt++
	}

	m.logger.Info("index rebuild finished", "rebuilt", rebuilt, "skipped", len(indexDefinitions)-rebuilt)
	return nil
}

// Compile-time check that Maintenance implements backup.Maintainer
var _ backup.Maintainer = (*Maintenance)(nil)
