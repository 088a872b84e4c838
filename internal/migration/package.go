// Package migration implements the platform's strong-mobility engine: it
// seals a running agent into a signed, content-addressed domain.AgentPackage,
// ships it to a target node over HTTP, and restores it there, committing the
// move on the source node only once the target confirms receipt.
//
// Grounded on original_source/src/agent.rs's AgentPackage: a SHA-256 content
// hash over the module bytes and serialized snapshot, with an Ed25519
// signature slot the original left unsigned ("would be signed in
// production"). This implementation fills that slot in: any node that holds
// a migrationSigner produces a real signature, and any node holding the
// matching trustedKeys entry verifies it before restoring.
package migration

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fipacore/platform/internal/domain"
)

// wireAgent mirrors domain.Agent but carries ModuleBytes over the wire;
// domain.Agent tags ModuleBytes json:"-" so it never leaks into AMS
// descriptor responses, but a migration transfer is exactly the one place
// those bytes must travel.
type wireAgent struct {
	ID               domain.AgentId             `json:"id"`
	ModuleBytes      []byte                     `json:"module_bytes"`
	ModuleHash       string                     `json:"module_hash"`
	Capabilities     domain.Capabilities        `json:"capabilities"`
	Status           domain.AgentLifecycleState `json:"status"`
	MigrationHistory []string                   `json:"migration_history,omitempty"`
	Signature        []byte                     `json:"signature,omitempty"`
	CreatedAt        time.Time                  `json:"created_at"`
}

// wirePackage is domain.AgentPackage's JSON-transfer shape.
type wirePackage struct {
	Agent        wireAgent                   `json:"agent"`
	Snapshot     domain.AgentSnapshot        `json:"snapshot"`
	Verification domain.PackageVerification  `json:"verification"`
}

func toWire(pkg domain.AgentPackage) wirePackage {
	a := pkg.Agent
	return wirePackage{
		Agent: wireAgent{
			ID: a.ID, ModuleBytes: a.ModuleBytes, ModuleHash: a.ModuleHash,
			Capabilities: a.Capabilities, Status: a.Status,
			MigrationHistory: a.MigrationHistory, Signature: a.Signature, CreatedAt: a.CreatedAt,
		},
		Snapshot:     pkg.Snapshot,
		Verification: pkg.Verification,
	}
}

func fromWire(w wirePackage) domain.AgentPackage {
	a := w.Agent
	return domain.AgentPackage{
		Agent: domain.Agent{
			ID: a.ID, ModuleBytes: a.ModuleBytes, ModuleHash: a.ModuleHash,
			Capabilities: a.Capabilities, Status: a.Status,
			MigrationHistory: a.MigrationHistory, Signature: a.Signature, CreatedAt: a.CreatedAt,
		},
		Snapshot:     w.Snapshot,
		Verification: w.Verification,
	}
}

// GenerateSigningKey creates a fresh Ed25519 keypair for a node to sign the
// packages it exports. The public half must be distributed to every node
// that should trust packages signed by this node (see Service.TrustKey).
func GenerateSigningKey() (ed25519.PrivateKey, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("migration: generate signing key: %w", err)
	}
	return priv, pub, nil
}

// contentHash reproduces original_source/src/agent.rs's AgentPackage::new:
// SHA-256 over the module bytes followed by the serialized snapshot. JSON
// stands in for the original's bincode; the scheme is unchanged, a
// deterministic encoding over the same two fields.
func contentHash(moduleBytes []byte, snap domain.AgentSnapshot) ([32]byte, error) {
	serialized, err := json.Marshal(snap)
	if err != nil {
		return [32]byte{}, fmt.Errorf("migration: serialize snapshot: %w", err)
	}
	h := sha256.New()
	h.Write(moduleBytes)
	h.Write(serialized)
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// buildPackage seals agent and snap into an AgentPackage, signing it with
// signer if non-nil.
func buildPackage(agent domain.Agent, snap domain.AgentSnapshot, signer ed25519.PrivateKey) (domain.AgentPackage, error) {
	hash, err := contentHash(agent.ModuleBytes, snap)
	if err != nil {
		return domain.AgentPackage{}, err
	}

	verification := domain.PackageVerification{
		ContentHash: hash,
		Timestamp:   time.Now(),
	}
	if signer != nil {
		verification.Signature = ed25519.Sign(signer, hash[:])
		verification.SignerPublicKey = []byte(signer.Public().(ed25519.PublicKey))
	}

	return domain.AgentPackage{
		Agent:        agent,
		Snapshot:     snap,
		Verification: verification,
	}, nil
}

// verifyPackage recomputes the content hash and, for a signed package,
// requires the signature to match one of trustedKeys. A package with no
// signature is accepted on hash alone, mirroring the original's "would be
// signed in production" escape hatch for unconfigured deployments; a
// package that claims a signature but that this node holds no trusted key
// for is refused outright, since an unverifiable signature is worse than
// none.
func verifyPackage(pkg domain.AgentPackage, trustedKeys []ed25519.PublicKey) error {
	hash, err := contentHash(pkg.Agent.ModuleBytes, pkg.Snapshot)
	if err != nil {
		return err
	}
	if hash != pkg.Verification.ContentHash {
		return fmt.Errorf("%w: agent %s", domain.ErrHashMismatch, pkg.Agent.ID.Name)
	}

	if len(pkg.Verification.Signature) == 0 {
		return nil
	}
	for _, key := range trustedKeys {
		if bytes.Equal(key, pkg.Verification.SignerPublicKey) && ed25519.Verify(key, hash[:], pkg.Verification.Signature) {
			return nil
		}
	}
	return fmt.Errorf("%w: agent %s: signature does not match any trusted key", domain.ErrSignatureInvalid, pkg.Agent.ID.Name)
}
