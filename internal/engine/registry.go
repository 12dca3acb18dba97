package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/degov/workflow-core/domain/workflow"
	"github.com/degov/workflow-core/internal/kerrors"
	"github.com/degov/workflow-core/internal/kv"
)

// RegisterWorkflow validates def and persists it as a new version of its
// NSID. Registration is idempotent by (id, version, content-hash): a
// second registration of the same id/version whose content matches is a
// no-op; content that differs is rejected as AlreadyExists.
func (e *Engine) RegisterWorkflow(ctx context.Context, def workflow.Definition) (int, error) {
	if err := def.Validate(); err != nil {
		return 0, kerrors.NewValidationError("definition", err.Error())
	}

	contentHash, err := hashDefinition(def)
	if err != nil {
		return 0, err
	}

	resolvedVersion := def.Version
	err = e.transact(ctx, func(txn kv.Txn) error {
		if resolvedVersion == 0 {
			resolvedVersion, err = nextVersion(txn, e.ks, def.ID)
			if err != nil {
				return err
			}
		}
		versionKey := strconv.Itoa(resolvedVersion)
		key := e.ks.Workflow(def.ID, versionKey)

		if existing, getErr := txn.Get(key); getErr == nil {
			var existingDef workflow.Definition
			if jsonErr := json.Unmarshal(existing, &existingDef); jsonErr != nil {
				return jsonErr
			}
			existingHash, hashErr := hashDefinition(existingDef)
			if hashErr != nil {
				return hashErr
			}
			if existingHash == contentHash {
				return nil // idempotent re-registration
			}
			return kerrors.NewConflictError("workflow", def.ID+"@"+versionKey, "version already registered with different content")
		} else if !kerrors.IsNotFound(getErr) {
			return getErr
		}

		def.Version = resolvedVersion
		data, marshalErr := json.Marshal(def)
		if marshalErr != nil {
			return marshalErr
		}
		txn.Set(key, data)

		latest, latestErr := currentLatest(txn, e.ks, def.ID)
		if latestErr != nil {
			return latestErr
		}
		if resolvedVersion >= latest {
			txn.Set(e.ks.WorkflowLatest(def.ID), []byte(versionKey))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if e.cache != nil {
		e.cache.Invalidate(def.ID)
	}
	return resolvedVersion, nil
}

func nextVersion(txn kv.Txn, ks kv.Keyspace, nsid string) (int, error) {
	latest, err := currentLatest(txn, ks, nsid)
	if err != nil {
		return 0, err
	}
	return latest + 1, nil
}

func currentLatest(txn kv.Txn, ks kv.Keyspace, nsid string) (int, error) {
	data, err := txn.Get(ks.WorkflowLatest(nsid))
	if err != nil {
		if kerrors.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.Atoi(string(data))
}

// hashDefinition hashes def's content with Version zeroed out, so the
// (id, version, content-hash) idempotency check in RegisterWorkflow
// compares content regardless of whether Version was assigned by the
// caller or by nextVersion.
func hashDefinition(def workflow.Definition) (string, error) {
	def.Version = 0
	data, err := json.Marshal(def)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
