// Package qdrantstore keeps a TM store in a Qdrant collection. Every block is
// a payload-only point and every pair has one TOC point; vectors are a
// constant placeholder since nothing is searched by similarity.
package qdrantstore

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"tmengine/internal/contextutil"
	"tmengine/internal/model"
	"tmengine/internal/tmstore"
)

const (
	kindBlock = "block"
	kindTOC   = "toc"

	scrollPage = 256
)

// pointNamespace derives stable point ids from pair and block names.
var pointNamespace = uuid.MustParse("6f1d3c2e-5a43-4c7e-9a0e-2b8f7d41c9a5")

// pointClient is the subset of *qdrant.Client the store uses.
type pointClient interface {
	CollectionExists(ctx context.Context, collection string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	Scroll(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
}

// Store implements tmstore.Store on a Qdrant collection.
type Store struct {
	info       tmstore.Info
	client     pointClient
	collection string
	now        func() string
}

var _ tmstore.Store = (*Store)(nil)

// New creates a Qdrant-backed store.
// urlStr should be in the format "http://host:port" (e.g., "http://localhost:6333").
// The gRPC port (typically 6334) will be derived from the HTTP port.
func New(id, urlStr, collection string, access tmstore.Access, partitioning tmstore.Partitioning) (*Store, error) {
	host, port, err := grpcAddress(urlStr)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}
	return newStore(id, client, collection, access, partitioning), nil
}

func newStore(id string, client pointClient, collection string, access tmstore.Access, partitioning tmstore.Partitioning) *Store {
	return &Store{
		info:       tmstore.Info{ID: id, Type: "qdrant", Access: access, Partitioning: partitioning},
		client:     client,
		collection: collection,
		now:        func() string { return time.Now().UTC().Format(time.RFC3339Nano) },
	}
}

// grpcAddress extracts the gRPC host and port from a Qdrant HTTP URL.
func grpcAddress(urlStr string) (string, int, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid Qdrant URL: %w", err)
	}

	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}

	// Extract port from URL, default to 6334 for gRPC
	port := 6334
	if parsedURL.Port() != "" {
		httpPort, err := strconv.Atoi(parsedURL.Port())
		if err == nil {
			// gRPC port is typically HTTP port + 1
			port = httpPort + 1
		}
	}
	return host, port, nil
}

// Info returns the store description.
func (s *Store) Info() tmstore.Info {
	return s.info
}

// EnsureCollection creates the collection if it does not exist.
func (s *Store) EnsureCollection(ctx context.Context) error {
	logger := contextutil.LoggerFromContext(ctx)

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	logger.InfoContext(ctx, "creating collection", "collection", s.collection, "store", s.info.ID)
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     1,
			Distance: qdrant.Distance_Dot,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Ping checks that the collection is reachable.
func (s *Store) Ping(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("collection %s does not exist", s.collection)
	}
	return nil
}

func pointID(sourceLang, targetLang, kind, name string) *qdrant.PointId {
	key := sourceLang + "\x00" + targetLang + "\x00" + kind + "\x00" + name
	return qdrant.NewID(uuid.NewSHA1(pointNamespace, []byte(key)).String())
}

// AvailableLangPairs scrolls through the TOC points.
func (s *Store) AvailableLangPairs(ctx context.Context) ([]model.LangPair, error) {
	var pairs []model.LangPair
	filter := &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("kind", kindTOC)}}
	limit := uint32(scrollPage + 1)
	var offset *qdrant.PointId
	for {
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Filter:         filter,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll toc points: %w", err)
		}
		// The extra point only marks where the next page starts.
		page := points
		if len(points) > scrollPage {
			page = points[:scrollPage]
		}
		for _, p := range page {
			pairs = append(pairs, model.LangPair{
				SourceLang: p.GetPayload()["source_lang"].GetStringValue(),
				TargetLang: p.GetPayload()["target_lang"].GetStringValue(),
			})
		}
		if len(points) <= scrollPage {
			return pairs, nil
		}
		offset = points[scrollPage].GetId()
	}
}

// TOC reads the pair's TOC point.
func (s *Store) TOC(ctx context.Context, sourceLang, targetLang string) (*model.TOC, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{pointID(sourceLang, targetLang, kindTOC, "")},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get toc point: %w", err)
	}
	toc := model.NewTOC()
	if len(points) == 0 {
		return toc, nil
	}
	if err := json.Unmarshal([]byte(points[0].GetPayload()["body"].GetStringValue()), toc); err != nil {
		return nil, fmt.Errorf("failed to decode toc: %w", err)
	}
	if toc.Blocks == nil {
		toc.Blocks = make(map[string]*model.TOCBlock)
	}
	return toc, nil
}

// Blocks fetches one block point per pull.
func (s *Store) Blocks(ctx context.Context, sourceLang, targetLang string, blockIDs []string) iter.Seq2[*model.Block, error] {
	return func(yield func(*model.Block, error) bool) {
		for _, id := range blockIDs {
			points, err := s.client.Get(ctx, &qdrant.GetPoints{
				CollectionName: s.collection,
				Ids:            []*qdrant.PointId{pointID(sourceLang, targetLang, kindBlock, id)},
				WithPayload:    qdrant.NewWithPayload(true),
			})
			if err != nil {
				yield(nil, fmt.Errorf("failed to get block %s: %w", id, err))
				return
			}
			if len(points) == 0 {
				yield(nil, fmt.Errorf("block %s: %w", id, tmstore.ErrBlockNotFound))
				return
			}
			var block model.Block
			if err := json.Unmarshal([]byte(points[0].GetPayload()["body"].GetStringValue()), &block); err != nil {
				yield(nil, fmt.Errorf("failed to decode block %s: %w", id, err))
				return
			}
			if !yield(&block, nil) {
				return
			}
		}
	}
}

// Writer upserts block points as they are written and the TOC point when the
// session ends.
func (s *Store) Writer(ctx context.Context, sourceLang, targetLang string, body func(write tmstore.BlockWriter) error) error {
	logger := contextutil.LoggerFromContext(ctx)

	toc, err := s.TOC(ctx, sourceLang, targetLang)
	if err != nil {
		return err
	}
	session := tmstore.NewSession(toc, s.now)

	write := func(ctx context.Context, blockID string, jobs iter.Seq2[*model.Job, error]) error {
		block, err := session.Collect(blockID, jobs)
		if err != nil {
			return err
		}
		id := pointID(sourceLang, targetLang, kindBlock, blockID)
		if block == nil {
			_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
				CollectionName: s.collection,
				Points:         qdrant.NewPointsSelector(id),
			})
			if err != nil {
				return fmt.Errorf("failed to delete block %s: %w", blockID, err)
			}
			session.Record(blockID, nil)
			return nil
		}
		raw, err := json.Marshal(block)
		if err != nil {
			return fmt.Errorf("failed to encode block %s: %w", blockID, err)
		}
		err = s.upsert(ctx, id, map[string]any{
			"kind":        kindBlock,
			"source_lang": sourceLang,
			"target_lang": targetLang,
			"block_id":    blockID,
			"modified":    block.Modified,
			"body":        string(raw),
		})
		if err != nil {
			return fmt.Errorf("failed to write block %s: %w", blockID, err)
		}
		session.Record(blockID, block)
		return nil
	}

	commit := func() error {
		raw, err := json.Marshal(session.TOC())
		if err != nil {
			return err
		}
		if err := s.upsert(ctx, pointID(sourceLang, targetLang, kindTOC, ""), map[string]any{
			"kind":        kindTOC,
			"source_lang": sourceLang,
			"target_lang": targetLang,
			"body":        string(raw),
		}); err != nil {
			return err
		}
		logger.InfoContext(ctx, "committed toc", "store", s.info.ID, "source_lang", sourceLang,
			"target_lang", targetLang, "blocks", len(session.Changed()))
		return nil
	}

	return session.Run(body, write, commit)
}

func (s *Store) upsert(ctx context.Context, id *qdrant.PointId, payload map[string]any) error {
	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{{
			Id:      id,
			Vectors: qdrant.NewVectors(1),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}
	return nil
}
