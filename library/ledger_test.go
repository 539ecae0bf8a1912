package library

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func availableCopies(t *testing.T, mgr *LibraryManager, bookID int64) int64 {
	t.Helper()
	book, err := mgr.GetBook(context.Background(), bookID)
	require.NoError(t, err)
	return book.AvailableCopies
}

func TestDuneScenario(t *testing.T) {
	forEachDriver(t, func(t *testing.T, mgr *LibraryManager, _ *testClock) {
		ctx := context.Background()
		bookID, err := mgr.AddBook(ctx, "Dune", "Herbert", WithCopies(1))
		require.NoError(t, err)
		assert.EqualValues(t, 1, bookID)
		memberID, err := mgr.AddMember(ctx, "Paul", "Atreides")
		require.NoError(t, err)

		loanID, err := mgr.Borrow(ctx, bookID, memberID)
		require.NoError(t, err)
		assert.EqualValues(t, 0, availableCopies(t, mgr, bookID))

		_, err = mgr.Borrow(ctx, bookID, memberID)
		require.ErrorIs(t, err, ErrNoCopiesAvailable)
		assert.EqualValues(t, 0, availableCopies(t, mgr, bookID))

		require.NoError(t, mgr.ReturnBook(ctx, bookID, memberID))
		assert.EqualValues(t, 1, availableCopies(t, mgr, bookID))

		loan, err := mgr.GetLoan(ctx, loanID)
		require.NoError(t, err)
		require.NotNil(t, loan.ReturnDate)
		assert.Equal(t, Date("2026-03-01"), *loan.ReturnDate)
		assert.Equal(t, LoanReturned, loan.State())
	})
}

func TestBorrowRecordsLoanAndDueDate(t *testing.T) {
	forEachDriver(t, func(t *testing.T, mgr *LibraryManager, _ *testClock) {
		ctx := context.Background()
		bookID, err := mgr.AddBook(ctx, "Emma", "Austen", WithCopies(2))
		require.NoError(t, err)
		memberID, err := mgr.AddMember(ctx, "Jane", "Fairfax")
		require.NoError(t, err)

		loanID, err := mgr.Borrow(ctx, bookID, memberID)
		require.NoError(t, err)

		loan, err := mgr.GetLoan(ctx, loanID)
		require.NoError(t, err)
		assert.Equal(t, bookID, loan.BookID)
		assert.Equal(t, memberID, loan.MemberID)
		assert.Equal(t, Date("2026-03-01"), loan.LoanDate)
		assert.Equal(t, Date("2026-03-15"), loan.DueDate)
		assert.Nil(t, loan.ReturnDate)
		assert.Equal(t, LoanOpen, loan.State())
		assert.EqualValues(t, 1, availableCopies(t, mgr, bookID))
	})
}

func TestBorrowUnknownBook(t *testing.T) {
	ctx := context.Background()
	mgr := NewLibraryManagerFromDatabase(tempDB(t))
	memberID, err := mgr.AddMember(ctx, "Paul", "Atreides")
	require.NoError(t, err)

	_, err = mgr.Borrow(ctx, 404, memberID)
	assert.ErrorIs(t, err, ErrNoCopiesAvailable)

	history, err := mgr.LoanHistory(ctx, memberID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestBorrowUnknownMemberRollsBackDecrement(t *testing.T) {
	forEachDriver(t, func(t *testing.T, mgr *LibraryManager, _ *testClock) {
		ctx := context.Background()
		bookID, err := mgr.AddBook(ctx, "Dune", "Herbert")
		require.NoError(t, err)

		_, err = mgr.Borrow(ctx, bookID, 777)
		require.ErrorIs(t, err, ErrNotFound)
		assert.NotErrorIs(t, err, ErrNoCopiesAvailable)
		assert.EqualValues(t, 1, availableCopies(t, mgr, bookID), "decrement must be rolled back")

		loans, err := mgr.ledger.ListLoans(ctx)
		require.NoError(t, err)
		assert.Empty(t, loans)
	})
}

func TestRedundantReturnDoesNotInflateInventory(t *testing.T) {
	forEachDriver(t, func(t *testing.T, mgr *LibraryManager, clock *testClock) {
		ctx := context.Background()
		bookID, err := mgr.AddBook(ctx, "Dune", "Herbert", WithCopies(1))
		require.NoError(t, err)
		memberID, err := mgr.AddMember(ctx, "Paul", "Atreides")
		require.NoError(t, err)
		otherID, err := mgr.AddMember(ctx, "Duncan", "Idaho")
		require.NoError(t, err)

		// never borrowed
		err = mgr.ReturnBook(ctx, bookID, memberID)
		require.ErrorIs(t, err, ErrNoOpenLoan)
		require.ErrorIs(t, err, ErrNotFound)
		assert.EqualValues(t, 1, availableCopies(t, mgr, bookID))

		loanID, err := mgr.Borrow(ctx, bookID, memberID)
		require.NoError(t, err)

		// wrong member
		require.ErrorIs(t, mgr.ReturnBook(ctx, bookID, otherID), ErrNoOpenLoan)
		assert.EqualValues(t, 0, availableCopies(t, mgr, bookID))

		require.NoError(t, mgr.ReturnBook(ctx, bookID, memberID))
		first, err := mgr.GetLoan(ctx, loanID)
		require.NoError(t, err)

		clock.AdvanceDays(3)
		require.ErrorIs(t, mgr.ReturnBook(ctx, bookID, memberID), ErrNoOpenLoan)

		again, err := mgr.GetLoan(ctx, loanID)
		require.NoError(t, err)
		assert.Equal(t, first.ReturnDate, again.ReturnDate, "return date is immutable")
		assert.EqualValues(t, 1, availableCopies(t, mgr, bookID))
	})
}

func TestReturnClosesMostRecentOpenLoan(t *testing.T) {
	forEachDriver(t, func(t *testing.T, mgr *LibraryManager, clock *testClock) {
		ctx := context.Background()
		bookID, err := mgr.AddBook(ctx, "Dune", "Herbert", WithCopies(2))
		require.NoError(t, err)
		memberID, err := mgr.AddMember(ctx, "Paul", "Atreides")
		require.NoError(t, err)

		older, err := mgr.Borrow(ctx, bookID, memberID)
		require.NoError(t, err)
		clock.AdvanceDays(2)
		newer, err := mgr.Borrow(ctx, bookID, memberID)
		require.NoError(t, err)
		assert.EqualValues(t, 0, availableCopies(t, mgr, bookID))

		require.NoError(t, mgr.ReturnBook(ctx, bookID, memberID))

		loan, err := mgr.GetLoan(ctx, newer)
		require.NoError(t, err)
		assert.Equal(t, LoanReturned, loan.State())
		loan, err = mgr.GetLoan(ctx, older)
		require.NoError(t, err)
		assert.Equal(t, LoanOpen, loan.State())
		assert.EqualValues(t, 1, availableCopies(t, mgr, bookID))
	})
}

func TestInventoryMatchesOpenLoans(t *testing.T) {
	forEachDriver(t, func(t *testing.T, mgr *LibraryManager, _ *testClock) {
		ctx := context.Background()
		const provisioned = 3
		bookID, err := mgr.AddBook(ctx, "Dune", "Herbert", WithCopies(provisioned))
		require.NoError(t, err)
		var members []int64
		for _, name := range []string{"Paul", "Jessica", "Leto", "Alia"} {
			id, err := mgr.AddMember(ctx, name, "Atreides")
			require.NoError(t, err)
			members = append(members, id)
		}

		check := func() {
			t.Helper()
			open, err := mgr.ledger.countOpenLoans(ctx, bookID)
			require.NoError(t, err)
			avail := availableCopies(t, mgr, bookID)
			assert.GreaterOrEqual(t, avail, int64(0))
			assert.Equal(t, int64(provisioned)-open, avail)
		}

		steps := []struct {
			borrow bool
			member int
		}{
			{true, 0}, {true, 1}, {true, 2}, {true, 3}, {false, 1}, {true, 3}, {false, 0}, {false, 0}, {false, 2}, {false, 3},
		}
		for _, s := range steps {
			if s.borrow {
				_, _ = mgr.Borrow(ctx, bookID, members[s.member])
			} else {
				_ = mgr.ReturnBook(ctx, bookID, members[s.member])
			}
			check()
		}
		assert.EqualValues(t, provisioned, availableCopies(t, mgr, bookID))
	})
}

func TestLoanHistoryOrderedByLoanDateDescending(t *testing.T) {
	forEachDriver(t, func(t *testing.T, mgr *LibraryManager, clock *testClock) {
		ctx := context.Background()
		dune, err := mgr.AddBook(ctx, "Dune", "Herbert")
		require.NoError(t, err)
		emma, err := mgr.AddBook(ctx, "Emma", "Austen")
		require.NoError(t, err)
		ulysses, err := mgr.AddBook(ctx, "Ulysses", "Joyce")
		require.NoError(t, err)
		memberID, err := mgr.AddMember(ctx, "Molly", "Bloom")
		require.NoError(t, err)
		otherID, err := mgr.AddMember(ctx, "Leopold", "Bloom")
		require.NoError(t, err)

		_, err = mgr.Borrow(ctx, dune, memberID)
		require.NoError(t, err)
		clock.AdvanceDays(5)
		require.NoError(t, mgr.ReturnBook(ctx, dune, memberID))
		_, err = mgr.Borrow(ctx, ulysses, otherID)
		require.NoError(t, err)
		clock.AdvanceDays(5)
		_, err = mgr.Borrow(ctx, emma, memberID)
		require.NoError(t, err)
		_, err = mgr.Borrow(ctx, dune, memberID)
		require.NoError(t, err)

		history, err := mgr.LoanHistory(ctx, memberID)
		require.NoError(t, err)
		require.Len(t, history, 3)

		assert.Equal(t, []string{"Dune", "Emma", "Dune"},
			[]string{history[0].Title, history[1].Title, history[2].Title})
		assert.Equal(t, Date("2026-03-11"), history[0].LoanDate)
		assert.Equal(t, Date("2026-03-01"), history[2].LoanDate)
		for i := 1; i < len(history); i++ {
			assert.GreaterOrEqual(t, history[i-1].LoanDate, history[i].LoanDate)
		}

		assert.False(t, history[0].Returned())
		assert.Equal(t, "Herbert", history[0].Author)
		assert.True(t, history[2].Returned())
		assert.Equal(t, Date("2026-03-06"), *history[2].ReturnDate)

		empty, err := mgr.LoanHistory(ctx, 9999)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestDeleteBookCascadesLoans(t *testing.T) {
	forEachDriver(t, func(t *testing.T, mgr *LibraryManager, _ *testClock) {
		ctx := context.Background()
		dune, err := mgr.AddBook(ctx, "Dune", "Herbert")
		require.NoError(t, err)
		emma, err := mgr.AddBook(ctx, "Emma", "Austen")
		require.NoError(t, err)
		memberID, err := mgr.AddMember(ctx, "Paul", "Atreides")
		require.NoError(t, err)

		duneLoan, err := mgr.Borrow(ctx, dune, memberID)
		require.NoError(t, err)
		emmaLoan, err := mgr.Borrow(ctx, emma, memberID)
		require.NoError(t, err)

		require.NoError(t, mgr.DeleteBook(ctx, dune))

		_, err = mgr.GetLoan(ctx, duneLoan)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = mgr.GetLoan(ctx, emmaLoan)
		assert.NoError(t, err)

		history, err := mgr.LoanHistory(ctx, memberID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "Emma", history[0].Title)

		assert.ErrorIs(t, mgr.DeleteBook(ctx, dune), ErrNotFound)
	})
}

func TestDeleteMemberCascadesLoansAndRestocks(t *testing.T) {
	forEachDriver(t, func(t *testing.T, mgr *LibraryManager, _ *testClock) {
		ctx := context.Background()
		bookID, err := mgr.AddBook(ctx, "Dune", "Herbert", WithCopies(3))
		require.NoError(t, err)
		paul, err := mgr.AddMember(ctx, "Paul", "Atreides")
		require.NoError(t, err)
		alia, err := mgr.AddMember(ctx, "Alia", "Atreides")
		require.NoError(t, err)

		_, err = mgr.Borrow(ctx, bookID, paul)
		require.NoError(t, err)
		_, err = mgr.Borrow(ctx, bookID, paul)
		require.NoError(t, err)
		require.NoError(t, mgr.ReturnBook(ctx, bookID, paul))
		aliaLoan, err := mgr.Borrow(ctx, bookID, alia)
		require.NoError(t, err)
		assert.EqualValues(t, 1, availableCopies(t, mgr, bookID))

		require.NoError(t, mgr.DeleteMember(ctx, paul))

		history, err := mgr.LoanHistory(ctx, paul)
		require.NoError(t, err)
		assert.Empty(t, history)
		_, err = mgr.GetLoan(ctx, aliaLoan)
		assert.NoError(t, err)

		open, err := mgr.ledger.countOpenLoans(ctx, bookID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, open)
		assert.EqualValues(t, 2, availableCopies(t, mgr, bookID), "copies still out with the member are restocked")

		assert.ErrorIs(t, mgr.DeleteMember(ctx, paul), ErrNotFound)
	})
}

func TestConcurrentBorrowOfLastCopy(t *testing.T) {
	for _, driver := range allDrivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			mgr := NewLibraryManagerFromDatabase(openForDriver(t, driver))
			bookID, err := mgr.AddBook(ctx, "Dune", "Herbert", WithCopies(1))
			require.NoError(t, err)
			a, err := mgr.AddMember(ctx, "Paul", "Atreides")
			require.NoError(t, err)
			b, err := mgr.AddMember(ctx, "Feyd", "Harkonnen")
			require.NoError(t, err)

			var (
				wg        sync.WaitGroup
				start     = make(chan struct{})
				successes atomic.Int32
				noCopies  atomic.Int32
			)
			for _, memberID := range []int64{a, b} {
				wg.Add(1)
				go func(memberID int64) {
					defer wg.Done()
					<-start
					_, err := mgr.Borrow(ctx, bookID, memberID)
					switch {
					case err == nil:
						successes.Add(1)
					case assert.ErrorIs(t, err, ErrNoCopiesAvailable):
						noCopies.Add(1)
					}
				}(memberID)
			}
			close(start)
			wg.Wait()

			assert.EqualValues(t, 1, successes.Load())
			assert.EqualValues(t, 1, noCopies.Load())
			assert.EqualValues(t, 0, availableCopies(t, mgr, bookID))
		})
	}
}

func TestConcurrentBorrowAndReturnKeepInventoryConsistent(t *testing.T) {
	ctx := context.Background()
	mgr := NewLibraryManagerFromDatabase(tempDB(t))
	const copies = 4
	bookID, err := mgr.AddBook(ctx, "Dune", "Herbert", WithCopies(copies))
	require.NoError(t, err)

	const workers = 12
	memberIDs := make([]int64, workers)
	for i := range memberIDs {
		memberIDs[i], err = mgr.AddMember(ctx, "Reader", "Number")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, memberID := range memberIDs {
		wg.Add(1)
		go func(memberID int64) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				if _, err := mgr.Borrow(ctx, bookID, memberID); err == nil {
					assert.NoError(t, mgr.ReturnBook(ctx, bookID, memberID))
				} else {
					assert.ErrorIs(t, err, ErrNoCopiesAvailable)
				}
			}
		}(memberID)
	}
	wg.Wait()

	open, err := mgr.ledger.countOpenLoans(ctx, bookID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, open)
	assert.EqualValues(t, copies, availableCopies(t, mgr, bookID))
}
