package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/digilib/lendingledger/catalog"
	"github.com/digilib/lendingledger/config"
	"github.com/digilib/lendingledger/core"
)

const (
	defaultSimMembers     = 20
	defaultSimCopies      = 3
	defaultSimConcurrency = 0
)

var ErrInvariantBroken = errors.New("simulation broke a lending invariant")

type simulationConfig struct {
	members     int
	copies      int
	concurrency int
}

type simulationReport struct {
	BookID   core.BookID
	Borrowed int
	Rejected int
	Returned int
}

func newSimulateCommand() *cobra.Command {
	simCfg := simulationConfig{}

	command := &cobra.Command{
		Use:   "simulate",
		Short: "Race members for the copies of one book and verify the lending invariants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if simCfg.members <= 0 || simCfg.copies <= 0 {
				return errors.New("--members and --copies must be positive")
			}

			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}

			tel, err := newTelemetry(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = tel.shutdown(context.Background()) }()

			l, err := assembleLedger(cmd.Context(), cfg, tel)
			if err != nil {
				return err
			}
			defer l.Close()

			report, err := runSimulation(cmd.Context(), l, simCfg)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "book %s: %d borrowed, %d rejected, %d returned, invariants hold\n",
				report.BookID, report.Borrowed, report.Rejected, report.Returned)

			return err
		},
	}

	command.Flags().IntVar(&simCfg.members, "members", defaultSimMembers, "number of members racing for the book")
	command.Flags().IntVar(&simCfg.copies, "copies", defaultSimCopies, "number of copies of the book")
	command.Flags().IntVar(&simCfg.concurrency, "concurrency", defaultSimConcurrency, "max concurrent requests, 0 means one per member")

	return command
}

// runSimulation lets every member borrow the same book at once, checks that exactly
// min(members, copies) succeeded, then returns all copies concurrently and checks again.
func runSimulation(ctx context.Context, l *ledger, simCfg simulationConfig) (simulationReport, error) {
	book, err := l.catalog.Create(ctx, core.BuildBookDraft(
		"Simulation "+uuid.NewString()[:8],
		"Raced by simulated members",
		simCfg.copies,
		core.RoleAdmin,
		core.Attachment{Content: strings.NewReader("\x89PNG"), ContentType: "image/png"},
		core.Attachment{Content: strings.NewReader("%PDF-1.7"), ContentType: "application/pdf"},
	))
	if err != nil {
		return simulationReport{}, err
	}

	memberIDs := make([]core.MemberID, simCfg.members)

	for i := range memberIDs {
		member, err := l.members.Register(ctx, core.MemberRegistration{
			ID:          core.MemberID(uuid.NewString()),
			Role:        core.RoleUser,
			DisplayName: fmt.Sprintf("Simulated reader %d", i+1),
			Email:       fmt.Sprintf("reader%d@simulation.test", i+1),
		})
		if err != nil {
			return simulationReport{}, err
		}

		memberIDs[i] = member.ID
	}

	report := simulationReport{BookID: book.ID}

	var borrowed, rejected atomic.Int32

	holders := make([]bool, len(memberIDs))

	g, gctx := errgroup.WithContext(ctx)
	if simCfg.concurrency > 0 {
		g.SetLimit(simCfg.concurrency)
	}

	for i, memberID := range memberIDs {
		g.Go(func() error {
			_, err := l.coordinator.Borrow(gctx, book.ID, memberID)

			switch {
			case err == nil:
				borrowed.Add(1)
				holders[i] = true
			case errors.Is(err, core.ErrNoCopiesAvailable):
				rejected.Add(1)
			default:
				return err
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	report.Borrowed = int(borrowed.Load())
	report.Rejected = int(rejected.Load())

	if err := verifyAfterBorrow(ctx, l, book.ID, memberIDs, holders, min(simCfg.members, simCfg.copies)); err != nil {
		return report, err
	}

	var returned atomic.Int32

	g, gctx = errgroup.WithContext(ctx)

	for i, memberID := range memberIDs {
		if !holders[i] {
			continue
		}

		g.Go(func() error {
			if _, err := l.coordinator.Return(gctx, book.ID, memberID); err != nil {
				return err
			}

			returned.Add(1)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	report.Returned = int(returned.Load())

	return report, verifyAfterReturn(ctx, l, book.ID, memberIDs)
}

func verifyAfterBorrow(
	ctx context.Context,
	l *ledger,
	bookID core.BookID,
	memberIDs []core.MemberID,
	holders []bool,
	wantBorrowed int,
) error {

	book, err := l.catalog.Get(ctx, bookID)
	if err != nil {
		return err
	}

	if err := book.CheckInvariants(); err != nil {
		return errors.Join(ErrInvariantBroken, err)
	}

	if book.CheckedOut() != wantBorrowed {
		return fmt.Errorf("%w: %d copies checked out, want %d", ErrInvariantBroken, book.CheckedOut(), wantBorrowed)
	}

	for i, memberID := range memberIDs {
		member, err := l.members.Get(ctx, memberID)
		if err != nil {
			return err
		}

		if member.HasBorrowed(bookID) != holders[i] || book.IsReadBy(memberID) != holders[i] {
			return fmt.Errorf("%w: book and member %s disagree about the loan", ErrInvariantBroken, memberID)
		}
	}

	var lent int

	for b, err := range l.catalog.List(ctx, catalog.ReadBy(memberIDs[0]), catalog.CurrentlyLent()) {
		if err != nil {
			return err
		}

		if b.ID == bookID {
			lent++
		}
	}

	if (lent == 1) != holders[0] {
		return fmt.Errorf("%w: reader query disagrees with member %s", ErrInvariantBroken, memberIDs[0])
	}

	return nil
}

func verifyAfterReturn(ctx context.Context, l *ledger, bookID core.BookID, memberIDs []core.MemberID) error {
	book, err := l.catalog.Get(ctx, bookID)
	if err != nil {
		return err
	}

	if err := book.CheckInvariants(); err != nil {
		return errors.Join(ErrInvariantBroken, err)
	}

	if book.AvailableCopies != book.TotalCopies || len(book.CurrentReaders) != 0 {
		return fmt.Errorf("%w: %d of %d copies back after all returns",
			ErrInvariantBroken, book.AvailableCopies, book.TotalCopies)
	}

	for _, memberID := range memberIDs {
		member, err := l.members.Get(ctx, memberID)
		if err != nil {
			return err
		}

		if member.HasBorrowed(bookID) {
			return fmt.Errorf("%w: member %s still holds the book", ErrInvariantBroken, memberID)
		}
	}

	return nil
}
