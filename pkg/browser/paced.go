package browser

import (
	"context"

	errs "igbatch/pkg/errors"
)

// Waiter is the part of a rate limiter Paced needs
type Waiter interface {
	Wait(ctx context.Context) error
}

// Pacer is implemented by pages whose navigations are rate limited
type Pacer interface {
	// Pace waits for the next navigation slot. The following Navigate uses
	// that slot instead of waiting again.
	Pace(ctx context.Context) error
}

// Pace waits for page's navigation slot under ctx. Pages without pacing
// return at once.
func Pace(ctx context.Context, page Page) error {
	if p, ok := page.(Pacer); ok {
		return p.Pace(ctx)
	}
	return nil
}

// Paced wraps page so every navigation first waits on limiter
func Paced(page Page, limiter Waiter) Page {
	if limiter == nil {
		return page
	}
	return &pacedPage{Page: page, limiter: limiter}
}

type pacedPage struct {
	Page
	limiter  Waiter
	reserved bool
}

func (p *pacedPage) Pace(ctx context.Context) error {
	if p.reserved {
		return nil
	}
	if err := p.wait(ctx); err != nil {
		return err
	}
	p.reserved = true
	return nil
}

func (p *pacedPage) Navigate(ctx context.Context, url string) error {
	if p.reserved {
		p.reserved = false
	} else if err := p.wait(ctx); err != nil {
		return err
	}
	return p.Page.Navigate(ctx, url)
}

// wait takes a token. rate.Limiter refuses at once when the token would
// arrive after ctx's deadline; that case waits the deadline out so callers
// observe a context error rather than a throttling failure.
func (p *pacedPage) wait(ctx context.Context) error {
	err := p.limiter.Wait(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil {
		if _, ok := ctx.Deadline(); ok {
			<-ctx.Done()
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errs.Wrap(errs.ErrorTypeRateLimit, "navigation rate limit", err)
}
