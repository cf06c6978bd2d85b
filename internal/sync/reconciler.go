package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harborlight/marksync/internal/identity"
	"github.com/harborlight/marksync/internal/model"
)

// defaultApplyLimit bounds concurrent store writes within one apply phase.
const defaultApplyLimit = 4

// candidate is one record (or matched pair) the reconciler wants to apply.
type candidate struct {
	mapper identity.Mapper
	key    model.EntityKey
	local  *model.FavoriteRecord
	remote *model.FavoriteRecord
}

// partition holds the three disjoint apply sets of a pass, plus surrogate
// claims (never-uploaded local records adopting an existing remote id).
type partition struct {
	uploads   []*candidate
	downloads []*candidate
	conflicts []*candidate
	claims    []*candidate
}

// Reconciler executes one complete sync pass: preflight, fetch both
// snapshots, partition by identity, apply uploads/downloads/conflicts, and
// aggregate a [Report]. It is stateless between calls; mutual exclusion is
// the [Scheduler]'s job.
type Reconciler struct {
	local      LocalStore
	remote     RemoteStore
	session    Session
	registry   *identity.Registry
	resolver   Resolver
	applyLimit int
	log        *slog.Logger
}

// NewReconciler creates a Reconciler wired to the given adapters. A nil
// resolver defaults to [RemoteWins]; applyLimit <= 0 defaults to 4.
func NewReconciler(local LocalStore, remote RemoteStore, session Session, registry *identity.Registry, resolver Resolver, applyLimit int, logger *slog.Logger) *Reconciler {
	if resolver == nil {
		resolver = RemoteWins{}
	}
	if applyLimit <= 0 {
		applyLimit = defaultApplyLimit
	}
	return &Reconciler{
		local:      local,
		remote:     remote,
		session:    session,
		registry:   registry,
		resolver:   resolver,
		applyLimit: applyLimit,
		log:        logger,
	}
}

// Reconcile performs one full pass. Preflight and fetch failures abort the
// pass with no writes performed; per-candidate failures during the apply
// phases are recorded individually and never abort sibling candidates.
func (r *Reconciler) Reconcile(ctx context.Context) Report {
	rep := Report{StartedAt: time.Now().UTC()}

	// Preflight: no partial state is touched without a session.
	owner, err := r.session.CurrentOwnerID(ctx)
	if err != nil {
		r.log.Warn("sync preflight failed", "error", err)
		return rep.failure(fmt.Errorf("resolving session: %w", err))
	}

	// Both snapshots must be complete before partitioning.
	localRecs, err := r.local.GetAllFavorites(ctx, owner)
	if err != nil {
		return rep.failure(fmt.Errorf("fetching local favorites: %w", err))
	}
	remoteRecs, err := r.remote.GetAllFavorites(ctx, owner)
	if err != nil {
		return rep.failure(fmt.Errorf("fetching remote favorites: %w", err))
	}

	parts := r.partition(localRecs, remoteRecs, &rep)

	r.log.Debug("favorites partitioned",
		"owner", owner,
		"local", len(localRecs),
		"remote", len(remoteRecs),
		"uploads", len(parts.uploads),
		"downloads", len(parts.downloads),
		"conflicts", len(parts.conflicts),
		"claims", len(parts.claims),
	)

	// Phase order is for report clarity; the sets operate on disjoint keys.
	r.applyUploads(ctx, parts, &rep)
	r.applyDownloads(ctx, parts, &rep)
	r.applyConflicts(ctx, parts, &rep)

	out := rep.finish()
	r.log.Info("reconcile complete",
		"owner", owner,
		"status", out.Status.String(),
		"uploaded", out.Uploaded,
		"downloaded", out.Downloaded,
		"resolved", out.Resolved,
		"errors", len(out.CandidateErrors),
		"duration", out.Duration,
	)
	return out
}

// --- partition ---------------------------------------------------------------

func (r *Reconciler) partition(localRecs, remoteRecs []*model.FavoriteRecord, rep *Report) *partition {
	p := &partition{}

	localByType := groupByType(localRecs)
	remoteByType := groupByType(remoteRecs)

	for _, t := range r.registry.Types() {
		locals := localByType[t]
		remotes := remoteByType[t]
		delete(localByType, t)
		delete(remoteByType, t)
		if len(locals) == 0 && len(remotes) == 0 {
			continue
		}
		mapper, err := r.registry.Lookup(t)
		if err != nil {
			rep.CandidateErrors = append(rep.CandidateErrors, CandidateError{
				Type: t, Phase: PhasePartition, Class: ClassIdentity, Err: err,
			})
			continue
		}
		r.partitionType(mapper, locals, remotes, p, rep)
	}

	// Records of types with no registered mapper cannot be keyed.
	for t := range localByType {
		err := &identity.MappingError{Type: t, Field: "entity type", Reason: "has no registered mapper"}
		r.log.Error("unmapped entity type in local store", "type", t, "error", err)
		rep.CandidateErrors = append(rep.CandidateErrors, CandidateError{
			Type: t, Phase: PhasePartition, Class: ClassIdentity, Err: err,
		})
	}
	for t := range remoteByType {
		err := &identity.MappingError{Type: t, Field: "entity type", Reason: "has no registered mapper"}
		r.log.Error("unmapped entity type in remote store", "type", t, "error", err)
		rep.CandidateErrors = append(rep.CandidateErrors, CandidateError{
			Type: t, Phase: PhasePartition, Class: ClassIdentity, Err: err,
		})
	}

	return p
}

// partitionType splits one entity type's records into the apply sets.
func (r *Reconciler) partitionType(mapper identity.Mapper, localRecs, remoteRecs []*model.FavoriteRecord, p *partition, rep *Report) {
	localByKey := r.index(mapper, localRecs, mapper.LocalKey, "local", rep)
	remoteByKey := r.index(mapper, remoteRecs, mapper.RemoteKey, "remote", rep)

	localKeys := sortedKeys(localByKey)
	remoteKeys := sortedKeys(remoteByKey)

	consumed := make(map[model.EntityKey]bool, len(remoteByKey))

	for _, key := range localKeys {
		lrec := localByKey[key]

		if rrec, ok := remoteByKey[key]; ok {
			consumed[key] = true
			// Identical matched records are no-ops.
			if lrec.IsFavorite != rrec.IsFavorite {
				p.conflicts = append(p.conflicts, &candidate{mapper: mapper, key: key, local: lrec, remote: rrec})
			}
			continue
		}

		// A never-uploaded surrogate record matches new candidates by domain
		// identifier: adopt an unconsumed remote record with the same
		// station rather than uploading a duplicate.
		if mapper.Kind() == model.KeySurrogate && lrec.RemoteID == "" {
			if rkey, rrec, ok := claimByStation(remoteKeys, remoteByKey, consumed, lrec.StationID); ok {
				consumed[rkey] = true
				p.claims = append(p.claims, &candidate{mapper: mapper, key: rkey, local: lrec, remote: rrec})
				continue
			}
		}

		p.uploads = append(p.uploads, &candidate{mapper: mapper, key: key, local: lrec})
	}

	for _, key := range remoteKeys {
		if !consumed[key] {
			p.downloads = append(p.downloads, &candidate{mapper: mapper, key: key, remote: remoteByKey[key]})
		}
	}
}

// index keys a snapshot, recording mapping failures and duplicate keys as
// partition-phase candidate errors. Duplicates keep the first record seen.
func (r *Reconciler) index(mapper identity.Mapper, recs []*model.FavoriteRecord, keyFn func(*model.FavoriteRecord) (model.EntityKey, error), side string, rep *Report) map[model.EntityKey]*model.FavoriteRecord {
	byKey := make(map[model.EntityKey]*model.FavoriteRecord, len(recs))
	for _, rec := range recs {
		key, err := keyFn(rec)
		if err != nil {
			r.log.Error("identity mapping failed, likely schema defect",
				"side", side, "type", rec.Type, "station", rec.StationID, "error", err)
			rep.CandidateErrors = append(rep.CandidateErrors, CandidateError{
				Type: rec.Type, Phase: PhasePartition, Class: ClassIdentity, Err: err,
			})
			continue
		}
		if _, dup := byKey[key]; dup {
			// One record per (owner, key) at rest; a duplicate is a sync bug.
			dupErr := &identity.MappingError{Type: rec.Type, Field: "key", Reason: fmt.Sprintf("duplicate %s record %s", side, key)}
			r.log.Error("duplicate favorite record at rest", "side", side, "key", key.String(), "error", dupErr)
			rep.CandidateErrors = append(rep.CandidateErrors, CandidateError{
				Type: rec.Type, Key: key, Phase: PhasePartition, Class: ClassIdentity, Err: dupErr,
			})
			continue
		}
		byKey[key] = rec
	}
	return byKey
}

// --- apply phases ------------------------------------------------------------

// applyUploads processes surrogate claims, then inserts local-only records
// remotely. Claims run first so a claimed pair can still join the conflict
// set in the same pass.
func (r *Reconciler) applyUploads(ctx context.Context, p *partition, rep *Report) {
	for _, c := range p.claims {
		if err := r.local.SetRemoteID(ctx, c.local, c.remote.RemoteID); err != nil {
			wrapped := &identity.MappingError{Type: c.mapper.EntityType(), Field: "remote id", Reason: "claim write-back failed", Err: err}
			r.log.Error("remote id claim failed, likely defect", "key", c.key.String(), "error", wrapped)
			rep.CandidateErrors = append(rep.CandidateErrors, CandidateError{
				Type: c.mapper.EntityType(), Key: c.key, Phase: PhaseUpload, Class: ClassIdentity, Err: wrapped,
			})
			continue
		}
		c.local.RemoteID = c.remote.RemoteID
		if c.local.IsFavorite != c.remote.IsFavorite {
			p.conflicts = append(p.conflicts, c)
		}
	}

	r.applyEach(ctx, p.uploads, PhaseUpload, ClassRemoteStore, rep, func(ctx context.Context, c *candidate) error {
		remoteID, err := r.remote.InsertFavorite(ctx, c.local)
		if err != nil {
			return fmt.Errorf("inserting %s %s remotely: %w", c.mapper.EntityType(), c.key, err)
		}
		if c.mapper.Kind() == model.KeySurrogate {
			// Write-back is part of the upload, not a separate step, so a
			// freshly uploaded record is never upload-eligible again.
			if err := r.local.SetRemoteID(ctx, c.local, remoteID); err != nil {
				return &identity.MappingError{Type: c.mapper.EntityType(), Field: "remote id", Reason: "write-back failed", Err: err}
			}
			c.local.RemoteID = remoteID
		}
		return nil
	}, func() { rep.Uploaded++ })
}

// applyDownloads inserts remote-only records into the local store.
func (r *Reconciler) applyDownloads(ctx context.Context, p *partition, rep *Report) {
	r.applyEach(ctx, p.downloads, PhaseDownload, ClassLocalStore, rep, func(ctx context.Context, c *candidate) error {
		rec := c.remote.Clone()
		if err := r.local.UpsertFavorite(ctx, rec); err != nil {
			return fmt.Errorf("storing %s %s locally: %w", c.mapper.EntityType(), c.key, err)
		}
		return nil
	}, func() { rep.Downloaded++ })
}

// applyConflicts resolves each differing matched pair and writes the winning
// value to whichever side lost.
func (r *Reconciler) applyConflicts(ctx context.Context, p *partition, rep *Report) {
	r.applyEach(ctx, p.conflicts, PhaseResolve, ClassLocalStore, rep, func(ctx context.Context, c *candidate) error {
		winner := r.resolver.Resolve(c.local, c.remote)
		winnerSide := "remote"
		if winner == WinnerLocal {
			winnerSide = "local"
		}
		r.log.Info("conflict detected",
			"type", c.mapper.EntityType(),
			"key", c.key.String(),
			"local_modified", c.local.LastModified,
			"remote_modified", c.remote.LastModified,
			"winner", winnerSide,
		)

		switch winner {
		case WinnerLocal:
			rec := c.remote.Clone()
			rec.IsFavorite = c.local.IsFavorite
			rec.LastModified = c.local.LastModified
			rec.OriginDevice = c.local.OriginDevice
			if err := r.remote.UpdateFavorite(ctx, rec); err != nil {
				return &classedError{
					class: ClassRemoteStore,
					err:   fmt.Errorf("pushing %s %s to remote: %w", c.mapper.EntityType(), c.key, err),
				}
			}
		default: // WinnerRemote
			rec := c.local.Clone()
			rec.IsFavorite = c.remote.IsFavorite
			rec.LastModified = c.remote.LastModified
			rec.OriginDevice = c.remote.OriginDevice
			if rec.RemoteID == "" {
				rec.RemoteID = c.remote.RemoteID
			}
			if err := r.local.UpsertFavorite(ctx, rec); err != nil {
				return fmt.Errorf("overwriting %s %s locally: %w", c.mapper.EntityType(), c.key, err)
			}
		}
		return nil
	}, func() { rep.Resolved++ })
}

// applyEach runs fn over candidates with a bounded worker pool. Each
// candidate's outcome is tracked independently; a failure never aborts
// siblings. Parent-context cancellation stops remaining work, and skipped
// candidates are recorded as failed so the pass reports partial.
func (r *Reconciler) applyEach(ctx context.Context, cands []*candidate, phase Phase, fallback ErrorClass, rep *Report, fn func(context.Context, *candidate) error, onSuccess func()) {
	if len(cands) == 0 {
		return
	}

	var mu gosync.Mutex
	var g errgroup.Group
	g.SetLimit(r.applyLimit)

	for _, c := range cands {
		g.Go(func() error {
			err := ctx.Err()
			if err == nil {
				err = fn(ctx, c)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				class := classify(err, fallback)
				if class == ClassIdentity {
					r.log.Error("sync candidate failed, likely defect",
						"phase", phase.String(), "key", c.key.String(), "error", err)
				} else {
					r.log.Warn("sync candidate failed",
						"phase", phase.String(), "class", class.String(), "key", c.key.String(), "error", err)
				}
				rep.CandidateErrors = append(rep.CandidateErrors, CandidateError{
					Type: c.mapper.EntityType(), Key: c.key, Phase: phase, Class: class, Err: err,
				})
				return nil
			}
			onSuccess()
			return nil
		})
	}
	_ = g.Wait()
}

// --- helpers -----------------------------------------------------------------

func groupByType(recs []*model.FavoriteRecord) map[model.EntityType][]*model.FavoriteRecord {
	byType := make(map[model.EntityType][]*model.FavoriteRecord)
	for _, rec := range recs {
		byType[rec.Type] = append(byType[rec.Type], rec)
	}
	return byType
}

// sortedKeys returns map keys in a stable order so claim matching and error
// reporting are deterministic.
func sortedKeys(m map[model.EntityKey]*model.FavoriteRecord) []model.EntityKey {
	keys := make([]model.EntityKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Primary != b.Primary {
			return a.Primary < b.Primary
		}
		if a.Discriminator != b.Discriminator {
			return a.Discriminator < b.Discriminator
		}
		return a.Surrogate < b.Surrogate
	})
	return keys
}

// claimByStation finds the first unconsumed remote record with the given
// domain identifier, in sorted key order.
func claimByStation(remoteKeys []model.EntityKey, remoteByKey map[model.EntityKey]*model.FavoriteRecord, consumed map[model.EntityKey]bool, stationID string) (model.EntityKey, *model.FavoriteRecord, bool) {
	for _, key := range remoteKeys {
		if consumed[key] {
			continue
		}
		rec := remoteByKey[key]
		if rec.StationID == stationID {
			return key, rec, true
		}
	}
	return model.EntityKey{}, nil, false
}
