package agent

import (
	"context"
	"errors"
	"fmt"

	"kollektiv/pkg/handler"
	"kollektiv/pkg/llm"
)

// CriterionEvaluation is the verdict on one criterion.
type CriterionEvaluation struct {
	ArgumentsFor         []string `json:"arguments_for" jsonschema:"Specific examples, quotes, or aspects of the answer that support the score (strengths)."`
	ArgumentsAgainst     []string `json:"arguments_against" jsonschema:"Specific examples, quotes, or aspects of the answer that detract from the score (weaknesses)."`
	Score                int      `json:"score" jsonschema:"Numerical score from 1 to 5 for this criterion."`
	RatingInterpretation string   `json:"rating_interpretation" jsonschema:"What this specific score means for this criterion, based on the scoring guide."`
	Justification        string   `json:"justification" jsonschema:"Detailed justification for the assigned score. Be specific."`
}

// EvaluationSummary is the holistic part of an evaluation.
type EvaluationSummary struct {
	KeyStrengths   []string `json:"key_strengths" jsonschema:"The 2-3 most significant strengths of the answer."`
	KeyWeaknesses  []string `json:"key_weaknesses" jsonschema:"The 2-3 most significant weaknesses or areas for improvement."`
	SummaryComment string   `json:"summary_comment" jsonschema:"A concise 2-3 sentence statement about the overall quality of the answer."`
	OverallScore   float64  `json:"overall_score" jsonschema:"Overall score from 1.0 to 5.0 considering all criteria."`
}

// EvaluationResult is the structured critique produced by the Judge.
type EvaluationResult struct {
	FactualAccuracy      CriterionEvaluation `json:"criterion_factual_accuracy" jsonschema:"Evaluation of factual accuracy."`
	Relevance            CriterionEvaluation `json:"criterion_relevance" jsonschema:"Evaluation of relevance."`
	Completeness         CriterionEvaluation `json:"criterion_completeness" jsonschema:"Evaluation of completeness."`
	ClarityCoherence     CriterionEvaluation `json:"criterion_clarity_coherence" jsonschema:"Evaluation of clarity and coherence."`
	InstructionFollowing CriterionEvaluation `json:"criterion_instruction_following" jsonschema:"Evaluation of instruction following."`
	Summary              EvaluationSummary   `json:"summary" jsonschema:"The overall assessment of the answer."`
}

// Validate enforces the score ranges the schema cannot express.
func (r *EvaluationResult) Validate() error {
	criteria := []struct {
		name string
		c    *CriterionEvaluation
	}{
		{"criterion_factual_accuracy", &r.FactualAccuracy},
		{"criterion_relevance", &r.Relevance},
		{"criterion_completeness", &r.Completeness},
		{"criterion_clarity_coherence", &r.ClarityCoherence},
		{"criterion_instruction_following", &r.InstructionFollowing},
	}
	var errs []error
	for _, cr := range criteria {
		if cr.c.Score < 1 || cr.c.Score > 5 {
			errs = append(errs, fmt.Errorf("%s.score must be between 1 and 5, got %d", cr.name, cr.c.Score))
		}
	}
	if r.Summary.OverallScore < 1.0 || r.Summary.OverallScore > 5.0 {
		errs = append(errs, fmt.Errorf("summary.overall_score must be between 1.0 and 5.0, got %g", r.Summary.OverallScore))
	}
	return errors.Join(errs...)
}

var evaluationFormat = handler.MustFormat[EvaluationResult]()

const judgeRequest = "Start by summarizing what the user actually asked for and what resources were made available to the AI. " +
	"Then provide a detailed evaluation for each criterion, including arguments for and against the score. " +
	"Then summarize your overall assessment of the answer, highlighting key strengths and weaknesses. " +
	"Finally, provide an overall score for the answer based on all criteria in the requested format."

const judgePrompt = `You are an expert AI Evaluation Judge, acting as a stern and meticulous critic. Your task is to rigorously evaluate an AI-generated answer based on a given goal or task description. Your critique should be harsh but fair, identifying every possible area for improvement.
You MUST provide your evaluation in a structured JSON format according to the schema provided.

GENERAL INSTRUCTIONS:
- Analyze the goal/task and AI-generated answer thoroughly
- For arguments_for: Identify specific, genuine strengths that represent positive attributes
- For arguments_against: Adopt a highly critical perspective to uncover any weaknesses, ambiguities, oversights, or improvements, no matter how subtle
- Provide evidence-based justifications referencing specific parts of the answer
- Score each criterion from 1 to 5 based on the scale below

SCORING SCALE FOR ALL CRITERIA:
1: Very Poor - Fundamentally fails to meet the criterion with critical issues
2: Poor - Inadequate performance with significant issues that reduce usefulness
3: Fair - Meets basic requirements but has notable shortcomings
4: Good - Performs well with only minor, non-significant issues
5: Excellent - Meets criterion perfectly or almost perfectly with no significant issues

EVALUATION CRITERIA:

1. FACTUAL ACCURACY
   Focus: Truthfulness and verifiability of information; absence of fabrications or misleading statements

2. RELEVANCE
   Focus: Direct alignment with the stated goal/task; absence of unnecessary information

3. COMPLETENESS
   Focus: Comprehensive coverage of all aspects of the goal/task with sufficient detail

4. CLARITY & COHERENCE
   Focus: Logical structure, clear language, smooth flow, and grammatical correctness

5. INSTRUCTION FOLLOWING
   Focus: Adherence to all explicit and implicit instructions in the goal/task

---

This is the full interaction of the user with the AI including the goal/task and the AI-generated answer:
<message_history>
%s
</message_history>`

// Judge critiques a transcript through one structured exchange.
type Judge struct {
	engine *Engine
}

func NewJudge(engine *Engine) *Judge {
	return &Judge{engine: engine}
}

// Evaluate scores transcript on five criteria. The exchange runs on a fresh
// history and sizes its context window from the transcript.
func (j *Judge) Evaluate(ctx context.Context, transcript string) (*EvaluationResult, error) {
	history := llm.NewHistory(llm.NewSystemMessage(fmt.Sprintf(judgePrompt, transcript)))

	reply, err := j.engine.Chat(ctx, Request{
		Message:        judgeRequest,
		History:        &history,
		Format:         evaluationFormat,
		DynamicContext: true,
	})
	if err != nil {
		return nil, fmt.Errorf("judge: %w", err)
	}

	result, ok := reply.Value.(EvaluationResult)
	if !ok {
		return nil, fmt.Errorf("judge: unexpected value %T", reply.Value)
	}
	return &result, nil
}
