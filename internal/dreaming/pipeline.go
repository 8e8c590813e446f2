package dreaming

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/intelligencedev/coremem/internal/atomicfile"
	"github.com/intelligencedev/coremem/internal/logctx"
	"github.com/intelligencedev/coremem/internal/objectstore"
	"github.com/intelligencedev/coremem/internal/tools/kafka"
	"github.com/intelligencedev/coremem/internal/util"
)

var archiveVersionPattern = regexp.MustCompile(`^archive_v(\d+)\.json$`)

// Publisher is the subset of kafka.Publisher the pipeline depends on, so
// tests can substitute a fake and production callers can leave it nil to
// disable the optional publish-on-archive step.
type Publisher interface {
	PublishArchiveEvent(ctx context.Context, ev kafka.ArchiveEvent) error
}

// ColdStore is the subset of objectstore.ObjectStore the pipeline depends
// on to push superseded archive versions to cold storage.
type ColdStore interface {
	Put(ctx context.Context, key string, r io.Reader, opts objectstore.PutOptions) (string, error)
}

// Pipeline runs the A→B→C→D consolidation workflow for one conversation
// at a time and persists its D archives + manifest under storageRoot.
// Grounded on DreamingPipeline in pipeline.py: same archive_v<N>.json
// naming, same manifest-synthesize-without-persist read path, same
// demote-previous-latest bookkeeping on a new version — replacing Python's
// Path.replace()-based atomic write with internal/atomicfile.
type Pipeline struct {
	chunker      *Chunker
	synthesizer  *Synthesizer
	storageRoot  string
	qualityLevel string
	publisher    Publisher
	coldStore    ColdStore
	ctx          *logctx.Context
}

// NewPipeline builds a Pipeline rooted at storageRoot (created if absent).
// publisher may be nil to disable the optional Kafka archive-event publish.
func NewPipeline(chunker *Chunker, synthesizer *Synthesizer, storageRoot, qualityLevel string, publisher Publisher, appCtx *logctx.Context) (*Pipeline, error) {
	if err := os.MkdirAll(storageRoot, 0o755); err != nil {
		return nil, fmt.Errorf("dreaming: create storage root: %w", err)
	}
	return &Pipeline{
		chunker:      chunker,
		synthesizer:  synthesizer,
		storageRoot:  storageRoot,
		qualityLevel: qualityLevel,
		publisher:    publisher,
		ctx:          appCtx,
	}, nil
}

// SetColdStore enables pushing superseded archive versions to an object
// store when a new version demotes them, mirroring the manifest's
// storage_location field moving from "hot" to "cold".
func (p *Pipeline) SetColdStore(store ColdStore) {
	p.coldStore = store
}

func (p *Pipeline) convDir(conversationID string) string {
	return filepath.Join(p.storageRoot, conversationID)
}

func (p *Pipeline) manifestPath(conversationID string) string {
	return filepath.Join(p.convDir(conversationID), "manifest.json")
}

func (p *Pipeline) archivePath(conversationID string, version int) string {
	return filepath.Join(p.convDir(conversationID), fmt.Sprintf("archive_v%d.json", version))
}

// archiveVersionFromName extracts the numeric version from an
// "archive_v<N>.json" filename, mirroring
// DreamingPipeline._archive_version_from_path.
func archiveVersionFromName(name string) (int, bool) {
	m := archiveVersionPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}

// sortedArchiveVersions lists the archive version numbers present on disk
// for conversationID, ascending.
func (p *Pipeline) sortedArchiveVersions(conversationID string) []int {
	entries, err := os.ReadDir(p.convDir(conversationID))
	if err != nil {
		return nil
	}
	var versions []int
	for _, e := range entries {
		if v, ok := archiveVersionFromName(e.Name()); ok {
			versions = append(versions, v)
		}
	}
	sort.Ints(versions)
	return versions
}

func (p *Pipeline) loadManifest(conversationID string) (*Manifest, bool) {
	path := p.manifestPath(conversationID)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var m Manifest
	if err := jsonUnmarshal(data, &m); err != nil {
		p.logError(fmt.Sprintf("failed to load manifest for %s: %v", conversationID, err))
		return nil, false
	}
	return &m, true
}

func (p *Pipeline) saveManifest(conversationID string, m *Manifest) error {
	if err := os.MkdirAll(p.convDir(conversationID), 0o755); err != nil {
		return err
	}
	return atomicfile.WriteJSON(p.manifestPath(conversationID), m, atomicfile.SecretPerm)
}

// buildManifestFromExistingArchives bootstraps a manifest purely from the
// archive_v*.json files on disk, per
// DreamingPipeline._build_manifest_from_existing_archives.
func (p *Pipeline) buildManifestFromExistingArchives(conversationID string) *Manifest {
	versions := p.sortedArchiveVersions(conversationID)
	latest := 0
	if len(versions) > 0 {
		latest = versions[len(versions)-1]
	}

	versionMap := make(map[string]VersionLifecycle, len(versions))
	for _, v := range versions {
		status, loc := "superseded", "cold"
		if v == latest {
			status, loc = "active", "hot"
		}
		var prev *int
		if v > 1 {
			pv := v - 1
			prev = &pv
		}
		versionMap[strconv.Itoa(v)] = VersionLifecycle{
			IsLatest:          v == latest,
			Status:            status,
			StorageLocation:   loc,
			PreviousVersion:   prev,
			SupersedesVersion: prev,
		}
	}

	return &Manifest{
		ConversationID: conversationID,
		LatestVersion:  latest,
		UpdatedAt:      p.ctx.Now().Format(timeLayout),
		Versions:       versionMap,
	}
}

// GetManifest is the public read-only accessor: it returns the persisted
// manifest if present, or an in-memory bootstrap view synthesized from
// existing archives when the conversation directory exists but carries no
// manifest.json yet — mirroring DreamingPipeline.get_manifest exactly: no
// write happens on this path.
func (p *Pipeline) GetManifest(conversationID string) (*Manifest, bool) {
	if m, ok := p.loadManifest(conversationID); ok {
		return m, true
	}
	if _, err := os.Stat(p.convDir(conversationID)); err != nil {
		return nil, false
	}
	return p.buildManifestFromExistingArchives(conversationID), true
}

// getOrInitManifest loads the manifest, or bootstraps (and optionally
// persists) one from existing archives.
func (p *Pipeline) getOrInitManifest(conversationID string, persistIfMissing bool) (*Manifest, error) {
	if m, ok := p.loadManifest(conversationID); ok {
		return m, nil
	}
	m := p.buildManifestFromExistingArchives(conversationID)
	if persistIfMissing {
		if err := p.saveManifest(conversationID, m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (p *Pipeline) nextArchiveVersion(conversationID string) (int, error) {
	m, err := p.getOrInitManifest(conversationID, false)
	if err != nil {
		return 0, err
	}
	return m.LatestVersion + 1, nil
}

// latestArchiveVersion returns the current latest version for
// conversationID, or 0 if none exists yet.
func (p *Pipeline) latestArchiveVersion(conversationID string) (int, error) {
	if _, err := os.Stat(p.convDir(conversationID)); err != nil {
		return 0, nil
	}
	m, err := p.getOrInitManifest(conversationID, true)
	if err != nil {
		return 0, err
	}
	if m.LatestVersion > 0 {
		if _, err := os.Stat(p.archivePath(conversationID, m.LatestVersion)); err == nil {
			return m.LatestVersion, nil
		}
	}
	versions := p.sortedArchiveVersions(conversationID)
	if len(versions) == 0 {
		return 0, nil
	}
	return versions[len(versions)-1], nil
}

// updateManifestForNewVersion demotes the previous latest version and
// records the new one, per
// DreamingPipeline._update_manifest_for_new_version. Archive files
// themselves are never rewritten; only the manifest's lifecycle metadata
// changes.
func (p *Pipeline) updateManifestForNewVersion(conversationID string, newVersion int, previousVersion int) error {
	m, err := p.getOrInitManifest(conversationID, true)
	if err != nil {
		return err
	}
	if m.Versions == nil {
		m.Versions = map[string]VersionLifecycle{}
	}

	now := p.ctx.Now().Format(timeLayout)
	if previousVersion > 0 {
		prevKey := strconv.Itoa(previousVersion)
		prev := m.Versions[prevKey]
		prev.IsLatest = false
		prev.Status = "superseded"
		prev.StorageLocation = "cold"
		newVer := newVersion
		prev.SupersededByVersion = &newVer
		prev.SupersededAt = now
		m.Versions[prevKey] = prev
	}

	var prevPtr *int
	if previousVersion > 0 {
		pv := previousVersion
		prevPtr = &pv
	}
	m.Versions[strconv.Itoa(newVersion)] = VersionLifecycle{
		IsLatest:          true,
		Status:            "active",
		StorageLocation:   "hot",
		PreviousVersion:   prevPtr,
		SupersedesVersion: prevPtr,
	}
	m.LatestVersion = newVersion
	m.UpdatedAt = now
	if err := p.saveManifest(conversationID, m); err != nil {
		return err
	}

	if previousVersion > 0 && p.coldStore != nil {
		p.pushToColdStorage(conversationID, previousVersion)
	}
	return nil
}

// pushToColdStorage uploads a superseded archive version to the
// configured object store. Failure is logged, not fatal — the manifest
// already reflects "cold" storage_location, and the archive file remains
// on local disk as the source of truth either way.
func (p *Pipeline) pushToColdStorage(conversationID string, version int) {
	data, err := os.ReadFile(p.archivePath(conversationID, version))
	if err != nil {
		p.logError(fmt.Sprintf("cold storage read failed for %s v%d: %v", conversationID, version, err))
		return
	}
	key := fmt.Sprintf("dreaming/%s/archive_v%d.json", conversationID, version)
	ctx := context.Background()
	if _, err := p.coldStore.Put(ctx, key, bytes.NewReader(data), objectstore.PutOptions{ContentType: "application/json"}); err != nil {
		p.logError(fmt.Sprintf("cold storage upload failed for %s v%d: %v", conversationID, version, err))
	}
}

// ProcessConversation runs the full A→B→C→D pipeline for one conversation
// and returns a Result describing what was produced.
func (p *Pipeline) ProcessConversation(ctx context.Context, conversationID, conversationText string, metadata map[string]any) Result {
	started := p.ctx.Now()
	result := Result{ConversationID: conversationID, QualityLevel: p.qualityLevel, StartedAt: started}

	bChunks, err := p.chunker.ChunkConversation(ctx, conversationID, conversationText)
	if err != nil {
		return p.failResult(result, err)
	}
	result.BChunkCount = len(bChunks)

	cClusters, err := p.synthesizer.SynthesizeChunks(ctx, bChunks, conversationID)
	if err != nil {
		return p.failResult(result, err)
	}
	result.CClusterCount = len(cClusters)

	previousVersion, err := p.latestArchiveVersion(conversationID)
	if err != nil {
		return p.failResult(result, err)
	}
	nextVersion, err := p.nextArchiveVersion(conversationID)
	if err != nil {
		return p.failResult(result, err)
	}

	var prevPtr *int
	if previousVersion > 0 {
		pv := previousVersion
		prevPtr = &pv
		result.PreviousVersion = prevPtr
	}

	archive := p.buildArchive(conversationID, nextVersion, prevPtr, bChunks, cClusters, metadata, conversationText)
	if err := p.saveArchive(archive); err != nil {
		return p.failResult(result, err)
	}
	if err := p.updateManifestForNewVersion(conversationID, nextVersion, previousVersion); err != nil {
		return p.failResult(result, err)
	}

	if p.publisher != nil {
		ev := kafka.ArchiveEvent{
			Conversation: conversationID,
			Version:      nextVersion,
			IsLatest:     true,
			ArchivedAt:   p.ctx.Now().Format(timeLayout),
		}
		if err := p.publisher.PublishArchiveEvent(ctx, ev); err != nil {
			p.logError(fmt.Sprintf("archive event publish failed for %s: %v", conversationID, err))
		}
	}

	result.ArchiveVersion = nextVersion
	result.Status = "success"
	result.CompletedAt = p.ctx.Now()
	return result
}

func (p *Pipeline) failResult(result Result, err error) Result {
	result.Status = "failed"
	result.Error = err.Error()
	result.CompletedAt = p.ctx.Now()
	p.logError(fmt.Sprintf("pipeline error for %s: %v", result.ConversationID, err))
	return result
}

// UpgradeQuality re-runs the A->B->C->D pipeline for conversationID's
// latest archive at targetQuality, producing a new version, per spec
// §4.10's upgrade_quality(conv, target). The original conversation text is
// read back from the latest archive's metadata rather than requiring the
// caller to resupply it; a latest archive with no recorded original_text
// is a fatal error, grounded on DreamingPipeline.upgrade_quality.
func (p *Pipeline) UpgradeQuality(ctx context.Context, conversationID, targetQuality string) (Result, error) {
	latest, err := p.latestArchiveVersion(conversationID)
	if err != nil {
		return Result{}, err
	}
	if latest == 0 {
		return Result{}, fmt.Errorf("dreaming: no archive found for %s", conversationID)
	}
	archive, err := p.GetArchive(conversationID, &latest)
	if err != nil {
		return Result{}, err
	}
	if archive == nil {
		return Result{}, fmt.Errorf("dreaming: no archive found for %s", conversationID)
	}

	originalText, _ := archive.Metadata["original_text"].(string)
	if originalText == "" {
		return Result{}, fmt.Errorf("dreaming: original conversation text not found in archive metadata for %s", conversationID)
	}

	oldQuality := p.qualityLevel
	p.qualityLevel = targetQuality
	p.chunker.qualityLevel = targetQuality
	p.synthesizer.qualityLevel = targetQuality
	defer func() {
		p.qualityLevel = oldQuality
		p.chunker.qualityLevel = oldQuality
		p.synthesizer.qualityLevel = oldQuality
	}()

	result := p.ProcessConversation(ctx, conversationID, originalText, archive.Metadata)
	if result.Status != "success" {
		return result, fmt.Errorf("dreaming: upgrade_quality failed for %s: %s", conversationID, result.Error)
	}
	return result, nil
}

func (p *Pipeline) buildArchive(conversationID string, version int, previousVersion *int, bChunks []BChunk, cClusters []CCluster, metadata map[string]any, conversationText string) Archive {
	entitySet := map[string]struct{}{}
	for _, c := range bChunks {
		for _, e := range c.Entities {
			entitySet[e] = struct{}{}
		}
	}
	entities := make([]string, 0, len(entitySet))
	for e := range entitySet {
		entities = append(entities, e)
	}
	sort.Strings(entities)

	tokenEstimate := 0
	for _, c := range bChunks {
		tokenEstimate += util.CountTokens(c.Content)
	}

	meta := map[string]any{}
	for k, v := range metadata {
		meta[k] = v
	}
	if _, ok := meta["original_text"]; !ok {
		meta["original_text"] = conversationText
	}
	meta["previous_version"] = previousVersion
	meta["supersedes_version"] = previousVersion
	meta["is_latest"] = true
	meta["status"] = "active"
	meta["storage_location"] = "hot"
	meta["token_estimate"] = tokenEstimate

	return Archive{
		ID:             "d_" + conversationID,
		ConversationID: conversationID,
		Version:        version,
		QualityLevel:   p.qualityLevel,
		CreatedAt:      p.ctx.Now(),
		Entities:       entities,
		BChunks:        bChunks,
		CClusters:      cClusters,
		Metadata:       meta,
	}
}

func (p *Pipeline) saveArchive(archive Archive) error {
	if err := os.MkdirAll(p.convDir(archive.ConversationID), 0o755); err != nil {
		return err
	}
	return atomicfile.WriteJSON(p.archivePath(archive.ConversationID, archive.Version), archive, atomicfile.SecretPerm)
}

// GetArchive retrieves a conversation's archive. version nil fetches the
// latest.
func (p *Pipeline) GetArchive(conversationID string, version *int) (*Archive, error) {
	if _, err := os.Stat(p.convDir(conversationID)); err != nil {
		return nil, nil
	}

	v := 0
	if version != nil {
		v = *version
	} else {
		latest, err := p.latestArchiveVersion(conversationID)
		if err != nil {
			return nil, err
		}
		if latest == 0 {
			return nil, nil
		}
		v = latest
	}

	data, err := os.ReadFile(p.archivePath(conversationID, v))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var a Archive
	if err := jsonUnmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetArchiveLifecycle returns the lifecycle/lineage metadata for a
// conversation's version (latest, if version is nil).
func (p *Pipeline) GetArchiveLifecycle(conversationID string, version *int) (*VersionLifecycle, int, bool) {
	m, ok := p.GetManifest(conversationID)
	if !ok {
		return nil, 0, false
	}
	v := m.LatestVersion
	if version != nil {
		v = *version
	}
	lc, ok := m.Versions[strconv.Itoa(v)]
	if !ok {
		return nil, 0, false
	}
	return &lc, v, true
}

// ArchiveSummary is one entry in ListArchives' output.
type ArchiveSummary struct {
	ConversationID  string `json:"conversation_id"`
	LatestVersion   int    `json:"latest_version"`
	QualityLevel    string `json:"quality_level"`
	CreatedAt       string `json:"created_at"`
	Status          string `json:"status"`
	StorageLocation string `json:"storage_location"`
	EntitiesCount   int    `json:"entities_count"`
	ChunksCount     int    `json:"chunks_count"`
	ClustersCount   int    `json:"clusters_count"`
}

// ListArchives lists every conversation under the storage root that has at
// least one archive.
func (p *Pipeline) ListArchives() ([]ArchiveSummary, error) {
	entries, err := os.ReadDir(p.storageRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []ArchiveSummary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		convID := e.Name()
		versions := p.sortedArchiveVersions(convID)
		if len(versions) == 0 {
			continue
		}
		latest, err := p.latestArchiveVersion(convID)
		if err != nil || latest == 0 {
			continue
		}
		archive, err := p.GetArchive(convID, &latest)
		if err != nil || archive == nil {
			continue
		}
		m, _ := p.loadManifest(convID)
		status, loc := "unknown", "unknown"
		if m != nil {
			if lc, ok := m.Versions[strconv.Itoa(latest)]; ok {
				status, loc = lc.Status, lc.StorageLocation
			}
		}
		out = append(out, ArchiveSummary{
			ConversationID:  convID,
			LatestVersion:   latest,
			QualityLevel:    archive.QualityLevel,
			CreatedAt:       archive.CreatedAt.Format(timeLayout),
			Status:          status,
			StorageLocation: loc,
			EntitiesCount:   len(archive.Entities),
			ChunksCount:     len(archive.BChunks),
			ClustersCount:   len(archive.CClusters),
		})
	}
	return out, nil
}

func (p *Pipeline) logError(msg string) {
	if p.ctx != nil {
		p.ctx.Log.Error().Msg("[dreaming.pipeline] " + msg)
	}
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
