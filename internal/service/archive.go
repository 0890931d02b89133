package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bidengine/internal/domain"
)

const archiveBidPage = 500

// Archive is the document written for a closed auction.
type Archive struct {
	Auction      domain.Auction `json:"auction"`
	DisplayPrice string         `json:"display_price"`
	Bids         []domain.Bid   `json:"bids"`
	ArchivedAt   time.Time      `json:"archived_at"`
}

// ArchivePath is the object key of a closed auction's archive.
func ArchivePath(a domain.Auction) string {
	end := a.EndAt.UTC()
	return fmt.Sprintf("auctions/%04d/%02d/%s.json", end.Year(), int(end.Month()), a.ID)
}

// ArchiveService writes each closed auction with its full bid log to object
// storage.
type ArchiveService struct {
	auctions domain.AuctionStore
	writer   domain.BlobWriter
	reader   domain.BlobReader
	logger   *slog.Logger
}

// NewArchiveService creates an ArchiveService. reader may be nil, in which
// case Fetch reports ErrNotFound.
func NewArchiveService(auctions domain.AuctionStore, writer domain.BlobWriter, reader domain.BlobReader, logger *slog.Logger) *ArchiveService {
	return &ArchiveService{
		auctions: auctions,
		writer:   writer,
		reader:   reader,
		logger:   logger.With(slog.String("component", "archive")),
	}
}

// AuctionClosed implements auction.CloseHook.
func (s *ArchiveService) AuctionClosed(ctx context.Context, a domain.Auction) {
	start := time.Now()
	if err := s.Write(ctx, a); err != nil {
		s.logger.ErrorContext(ctx, "archive failed",
			slog.String("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.InfoContext(ctx, "auction archived",
		slog.String("auction_id", a.ID),
		slog.String("path", ArchivePath(a)),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// Write uploads the archive of a.
func (s *ArchiveService) Write(ctx context.Context, a domain.Auction) error {
	var bids []domain.Bid
	for offset := 0; ; offset += archiveBidPage {
		page, err := s.auctions.ListBids(ctx, a.ID, domain.ListOpts{Limit: archiveBidPage, Offset: offset})
		if err != nil {
			return fmt.Errorf("archive: list bids %s: %w", a.ID, err)
		}
		bids = append(bids, page...)
		if len(page) < archiveBidPage {
			break
		}
	}

	doc := Archive{
		Auction:      a,
		DisplayPrice: domain.FormatMinorUnits(a.CurrentPrice),
		Bids:         bids,
		ArchivedAt:   time.Now().UTC(),
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("archive: encode %s: %w", a.ID, err)
	}
	if err := s.writer.Put(ctx, ArchivePath(a), bytes.NewReader(payload), "application/json"); err != nil {
		return fmt.Errorf("archive: upload %s: %w", a.ID, err)
	}
	return nil
}

// Fetch reads back the archive of a closed auction.
func (s *ArchiveService) Fetch(ctx context.Context, auctionID string) (Archive, error) {
	a, err := s.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return Archive{}, fmt.Errorf("archive: get %s: %w", auctionID, err)
	}
	if !a.Status.Terminal() || s.reader == nil {
		return Archive{}, fmt.Errorf("archive: %s: %w", auctionID, domain.ErrNotFound)
	}

	body, err := s.reader.Get(ctx, ArchivePath(a))
	if err != nil {
		return Archive{}, fmt.Errorf("archive: fetch %s: %w", auctionID, err)
	}
	defer body.Close()

	var doc Archive
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		return Archive{}, fmt.Errorf("archive: decode %s: %w", auctionID, err)
	}
	return doc, nil
}
