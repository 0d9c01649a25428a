package analysis

import (
	"encoding/json"
	"sync"

	"github.com/bryanwahyu/analyst-agent/internal/application/budget"
	domain "github.com/bryanwahyu/analyst-agent/internal/domain/analysis"
)

// assembler emits exactly one Answer per request. Later calls return the
// first answer unchanged.
type assembler struct {
	once      sync.Once
	requestID string
	budget    *budget.Budget
	answer    domain.Answer
}

func newAssembler(requestID string, b *budget.Budget) *assembler {
	return &assembler{requestID: requestID, budget: b}
}

func (a *assembler) succeed(payload json.RawMessage, attempts int) domain.Answer {
	return a.emit(domain.Answer{
		Status:   domain.StatusSuccess,
		Payload:  payload,
		Attempts: attempts,
	})
}

// fail reports err. Once the budget has expired every failure is a Timeout.
func (a *assembler) fail(err error, attempts int) domain.Answer {
	reason := domain.ReasonFor(err)
	if a.budget.Expired() {
		reason = domain.ReasonTimeout
	}
	return a.emit(domain.Answer{
		Status:   domain.StatusError,
		Reason:   reason,
		Detail:   err.Error(),
		Attempts: attempts,
	})
}

func (a *assembler) emit(ans domain.Answer) domain.Answer {
	a.once.Do(func() {
		ans.RequestID = a.requestID
		ans.Elapsed = a.budget.Elapsed()
		a.answer = ans
	})
	return a.answer
}
