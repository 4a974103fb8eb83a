package backup

import "io"

// Verifier reports on the structural integrity of a database file.
type Verifier interface {
	// Check walks the database's internal structures and returns one
	// diagnostic line per detected anomaly. A file that does not parse as
	// a database at all is reported as ok=false with a single diagnostic,
	// not as an error: integrity failure is an expected, handled outcome.
	Check(path string) (ok bool, diagnostics []string)
}

// Snapshotter produces a structurally consistent copy of a database file
// that may be open and actively written by another process. Implementations
// must use the database engine's own page-level backup primitive, never a
// raw file copy, which could capture a torn mid-transaction state.
type Snapshotter interface {
	Snapshot(sourcePath, destPath string) error
}

// Maintainer performs best-effort maintenance on the database engine's
// auxiliary structures.
type Maintainer interface {
	// RebuildIndexes re-executes the application's known index definitions.
	// Individual statement failures are logged, not returned: a missing
	// index is a performance problem, not a correctness one.
	RebuildIndexes(path string) error
}

// Encryptor handles encryption of archive files and unlocking for
// decryption. Encryption uses the public key only; decryption requires a
// passphrase to unlock the private key, producing a DecryptionContext for
// the session.
type Encryptor interface {
	// Setup performs one-time key generation. Generates a key pair, stores
	// the public key in plaintext, and encrypts the private key with the
	// provided passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key using the passphrase and returns a
	// DecryptionContext that can decrypt data for the duration of the
	// session. Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist at configured paths.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for the
// duration of a restore session. The unlocked key is never written to disk.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
