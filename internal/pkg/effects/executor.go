package effects

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayHook/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayHook/internal/pkg/mail"
)

// StockAdjuster removes sold units from inventory.
type StockAdjuster interface {
	DecrementStock(ctx context.Context, variantID string, quantity int) error
}

// Mailer delivers a rendered HTML email.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// TemplateRenderer renders an email template into subject and body.
type TemplateRenderer interface {
	Render(name string, data map[string]interface{}) (string, string, error)
}

// Executor performs commands against inventory and mail.
type Executor struct {
	stock    StockAdjuster
	mailer   Mailer
	renderer TemplateRenderer
}

func NewExecutor(stock StockAdjuster, mailer Mailer, renderer TemplateRenderer) *Executor {
	return &Executor{stock: stock, mailer: mailer, renderer: renderer}
}

// Execute runs a single command. Errors wrapping jobqueue.ErrPermanent are not retried.
func (x *Executor) Execute(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case DecrementStock:
		if c.VariantID == "" || c.Quantity <= 0 {
			return fmt.Errorf("%w: invalid stock command %s", jobqueue.ErrPermanent, c.Key)
		}
		if err := x.stock.DecrementStock(ctx, c.VariantID, c.Quantity); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %v", jobqueue.ErrPermanent, err)
			}
			return fmt.Errorf("decrement %s by %d: %w", c.VariantID, c.Quantity, err)
		}
		log.Infof("[Effects] Stock for %s decremented by %d (%s)", c.VariantID, c.Quantity, c.Key)
		return nil
	case SendEmail:
		subject, body, err := x.renderer.Render(c.Template, c.Data)
		if err != nil {
			if errors.Is(err, mail.ErrUnknownTemplate) {
				return fmt.Errorf("%w: %v", jobqueue.ErrPermanent, err)
			}
			return err
		}
		if err := x.mailer.Send(ctx, c.Recipient, subject, body); err != nil {
			return fmt.Errorf("send %s to %s: %w", c.Template, c.Recipient, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported command %T", jobqueue.ErrPermanent, cmd)
	}
}

// Register installs job handlers for every command kind on the queue.
func (x *Executor) Register(q *jobqueue.Queue) {
	q.RegisterHandler(jobqueue.JobTypeDecrementStock, func(ctx context.Context, job *jobqueue.Job) error {
		p, err := jobqueue.DecrementStockJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("%w: %v", jobqueue.ErrPermanent, err)
		}
		return x.Execute(ctx, DecrementStock{Key: p.Key, VariantID: p.VariantID, Quantity: p.Quantity})
	})
	q.RegisterHandler(jobqueue.JobTypeSendEmail, func(ctx context.Context, job *jobqueue.Job) error {
		p, err := jobqueue.SendEmailJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("%w: %v", jobqueue.ErrPermanent, err)
		}
		return x.Execute(ctx, SendEmail{Key: p.Key, Template: p.Template, Recipient: p.Recipient, Data: p.Data})
	})
}
