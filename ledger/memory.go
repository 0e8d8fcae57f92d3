package ledger

import (
	"fmt"
	"sync"

	"github.com/keyloft/settlement/txcommit"
)

// Submission is one accepted output set.
type Submission struct {
	Commitment txcommit.Digest
	Outputs    []txcommit.Output
	Change     []byte
}

// Memory is an in-process ledger for tests and examples. It evaluates the
// same predicate a real ledger would: a submission is accepted only if the
// claimed outputs commit to the annotated digest. Height advances only when
// told to.
type Memory struct {
	mu          sync.Mutex
	height      int64
	submissions []Submission
}

// NewMemory constructs a memory ledger at the given starting height.
func NewMemory(height int64) *Memory {
	return &Memory{height: height}
}

// CurrentHeight implements Clock.
func (m *Memory) CurrentHeight() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.height, nil
}

// AdvanceHeight moves the clock forward by n heights.
func (m *Memory) AdvanceHeight(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > 0 {
		m.height += n
	}
}

// SubmitOutputs implements Submitter. The outputs must commit to the
// annotated digest or the submission is rejected.
func (m *Memory) SubmitOutputs(commitment txcommit.Digest, outputs []txcommit.Output, change []byte) error {
	err := txcommit.Verify(commitment, outputs, change)
	if err != nil {
		return fmt.Errorf("evaluating submission predicate: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions = append(m.submissions, Submission{
		Commitment: commitment,
		Outputs:    outputs,
		Change:     change,
	})
	return nil
}

// Submissions returns a copy of all accepted submissions.
func (m *Memory) Submissions() []Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	submissions := make([]Submission, len(m.submissions))
	copy(submissions, m.submissions)
	return submissions
}
