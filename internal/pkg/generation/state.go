package generation

// Step identifies one stage of the generation workflow
type Step string

const (
	StepValidateCredits Step = "validating_credits"
	StepFetchPayload    Step = "fetching_payload"
	StepGenerate        Step = "generating"
	StepDeductCredits   Step = "deducting_credits"
	StepPersist         Step = "persisting"
)

// StepSequence is the strict execution order within one job. The failed
// terminal state is reachable from any step; completed only follows the
// last one.
var StepSequence = []Step{
	StepValidateCredits,
	StepFetchPayload,
	StepGenerate,
	StepDeductCredits,
	StepPersist,
}

// stepProgress maps each step to the progress percentage reported when it
// starts, and a polling-friendly message.
var stepProgress = map[Step]struct {
	Percent int
	Message string
}{
	StepValidateCredits: {10, "Checking your credit balance"},
	StepFetchPayload:    {25, "Loading your photo"},
	StepGenerate:        {40, "Generating image variations"},
	StepDeductCredits:   {75, "Updating your credit balance"},
	StepPersist:         {85, "Saving your images"},
}

// Job is the engine's view of one unit of work. StepsDone is persisted by
// the caller after every completed step so a retried job skips finished
// work and reruns only from the failed step.
type Job struct {
	RequestID string   `json:"request_id"`
	UserID    uint     `json:"user_id"`
	Prompt    string   `json:"prompt"`
	Style     string   `json:"style,omitempty"`
	StepsDone []string `json:"steps_done,omitempty"`
}

// Done reports whether a step already completed in a previous run
func (j *Job) Done(step Step) bool {
	for _, s := range j.StepsDone {
		if s == string(step) {
			return true
		}
	}
	return false
}

// MarkDone records a completed step (idempotent)
func (j *Job) MarkDone(step Step) {
	if j.Done(step) {
		return
	}
	j.StepsDone = append(j.StepsDone, string(step))
}

// EffectivePrompt folds the optional style label into the prompt text
func (j *Job) EffectivePrompt() string {
	if j.Style == "" {
		return j.Prompt
	}
	return j.Prompt + ", in the style of " + j.Style
}
