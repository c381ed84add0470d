package otp

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"qrattend/internal/mailer"
)

var codeRe = regexp.MustCompile(`\b\d{6}\b`)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestService(store Store) (*Service, *mailer.Recorder, *fakeClock) {
	rec := &mailer.Recorder{}
	clk := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	svc := NewService(store, rec, Options{
		TTL:      5 * time.Minute,
		Cooldown: time.Minute,
		HashCost: bcrypt.MinCost,
		Now:      clk.Now,
	})
	return svc, rec, clk
}

func sentCode(t *testing.T, rec *mailer.Recorder) string {
	t.Helper()
	sent := rec.Sent()
	if len(sent) == 0 {
		t.Fatal("no mail sent")
	}
	code := codeRe.FindString(sent[len(sent)-1].Body)
	if code == "" {
		t.Fatalf("no code in body %q", sent[len(sent)-1].Body)
	}
	return code
}

func TestGenerate(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if len(code) != 6 || code[0] == '0' {
			t.Fatalf("code %q is not a 6-digit number", code)
		}
	}
}

func TestSendAndVerify(t *testing.T) {
	svc, rec, _ := newTestService(NewMemoryStore())
	ctx := context.Background()

	if err := svc.Send(ctx, " Student@Institution.edu "); err != nil {
		t.Fatalf("Send: %v", err)
	}
	sent := rec.Sent()
	if sent[0].To != "student@institution.edu" || sent[0].Subject != "Your OTP Code" {
		t.Fatalf("mail = %+v", sent[0])
	}
	code := sentCode(t, rec)

	if err := svc.Verify(ctx, "student@institution.edu", code); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := svc.Verify(ctx, "student@institution.edu", code); !errors.Is(err, ErrExpired) {
		t.Fatalf("reuse err = %v, want ErrExpired", err)
	}
}

func TestStoreNeverHoldsPlainCode(t *testing.T) {
	store := NewMemoryStore()
	svc, rec, _ := newTestService(store)
	ctx := context.Background()
	_ = svc.Send(ctx, "a@b.c")
	code := sentCode(t, rec)

	e, err := store.Get(ctx, "a@b.c")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if strings.Contains(string(e.Hash), code) {
		t.Fatal("stored entry contains the plain code")
	}
}

func TestCooldownAndExpiry(t *testing.T) {
	svc, rec, clk := newTestService(NewMemoryStore())
	ctx := context.Background()

	_ = svc.Send(ctx, "a@b.c")
	if err := svc.Send(ctx, "a@b.c"); !errors.Is(err, ErrCooldown) {
		t.Fatalf("resend err = %v, want ErrCooldown", err)
	}
	clk.t = clk.t.Add(61 * time.Second)
	if err := svc.Send(ctx, "a@b.c"); err != nil {
		t.Fatalf("resend after cooldown: %v", err)
	}
	code := sentCode(t, rec)

	clk.t = clk.t.Add(5 * time.Minute)
	if err := svc.Verify(ctx, "a@b.c", code); !errors.Is(err, ErrExpired) {
		t.Fatalf("expired err = %v, want ErrExpired", err)
	}
}

func TestWrongCodeAttempts(t *testing.T) {
	svc, rec, _ := newTestService(NewMemoryStore())
	ctx := context.Background()
	_ = svc.Send(ctx, "a@b.c")
	code := sentCode(t, rec)
	wrong := "000000"

	for i := 0; i < maxAttempts-1; i++ {
		if err := svc.Verify(ctx, "a@b.c", wrong); !errors.Is(err, ErrInvalid) {
			t.Fatalf("attempt %d err = %v, want ErrInvalid", i, err)
		}
	}
	if err := svc.Verify(ctx, "a@b.c", wrong); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("last attempt err = %v, want ErrTooManyAttempts", err)
	}
	if err := svc.Verify(ctx, "a@b.c", code); !errors.Is(err, ErrExpired) {
		t.Fatalf("code after lockout err = %v, want ErrExpired", err)
	}
}

func parallelWrongGuesses(t *testing.T, svc *Service, email string, n int) map[error]int {
	t.Helper()
	var mu sync.Mutex
	var wg sync.WaitGroup
	results := make(map[error]int)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.Verify(context.Background(), email, "000000")
			mu.Lock()
			results[err]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func TestParallelWrongGuessesAreCounted(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisStore(client)
		},
	}
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			svc, rec, _ := newTestService(store)
			ctx := context.Background()
			if err := svc.Send(ctx, "a@b.c"); err != nil {
				t.Fatalf("Send: %v", err)
			}
			code := sentCode(t, rec)

			results := parallelWrongGuesses(t, svc, "a@b.c", 50)
			if results[ErrInvalid] > maxAttempts-1 {
				t.Fatalf("%d guesses were compared, want at most %d (results %v)", results[ErrInvalid], maxAttempts-1, results)
			}
			for err := range results {
				if !errors.Is(err, ErrInvalid) && !errors.Is(err, ErrTooManyAttempts) && !errors.Is(err, ErrExpired) {
					t.Fatalf("unexpected error %v", err)
				}
			}
			if _, err := store.Get(ctx, "a@b.c"); !errors.Is(err, errEntryNotFound) {
				t.Fatalf("entry still pending after lockout: %v", err)
			}
			if err := svc.Verify(ctx, "a@b.c", code); !errors.Is(err, ErrExpired) {
				t.Fatalf("correct code after lockout err = %v, want ErrExpired", err)
			}
		})
	}
}

func TestResendResetsAttempts(t *testing.T) {
	svc, rec, clk := newTestService(NewMemoryStore())
	ctx := context.Background()
	_ = svc.Send(ctx, "a@b.c")
	for i := 0; i < maxAttempts-1; i++ {
		_ = svc.Verify(ctx, "a@b.c", "000000")
	}
	clk.t = clk.t.Add(2 * time.Minute)
	if err := svc.Send(ctx, "a@b.c"); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if err := svc.Verify(ctx, "a@b.c", "000000"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("first guess on new code err = %v, want ErrInvalid", err)
	}
	if err := svc.Verify(ctx, "a@b.c", sentCode(t, rec)); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestSendMailFailure(t *testing.T) {
	store := NewMemoryStore()
	svc, rec, _ := newTestService(store)
	rec.Err = errors.New("535 authentication failed")
	ctx := context.Background()

	err := svc.Send(ctx, "a@b.c")
	if !errors.Is(err, mailer.ErrDelivery) {
		t.Fatalf("err = %v, want ErrDelivery", err)
	}
	if !strings.Contains(err.Error(), "535 authentication failed") {
		t.Fatalf("transport error not surfaced: %v", err)
	}
	if _, err := store.Get(ctx, "a@b.c"); !errors.Is(err, errEntryNotFound) {
		t.Fatalf("pending entry left after failed send: %v", err)
	}
	if err := svc.Send(ctx, ""); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("blank email err = %v", err)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	svc, rec, _ := newTestService(NewRedisStore(client))
	ctx := context.Background()
	if err := svc.Send(ctx, "a@b.c"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ttl := mr.TTL("qrattend:otp:a@b.c"); ttl != 5*time.Minute {
		t.Fatalf("ttl = %v, want 5m", ttl)
	}
	if err := svc.Verify(ctx, "a@b.c", sentCode(t, rec)); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if mr.Exists("qrattend:otp:a@b.c") || mr.Exists("qrattend:otp:attempts:a@b.c") {
		t.Fatal("entry not deleted after verify")
	}
}
