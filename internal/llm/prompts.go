package llm

// Prompt templates for every reasoning call. Each instructs the model to
// return bare JSON; fence-wrapped output is tolerated and stripped.

const planPrompt = `You are a research planner. Decompose the research request below into 2-4 ordered sub-goals.

Research request:
%s

Return ONLY a JSON array of steps:
[{"step_id": "s1", "goal": "...", "way": "how to pursue it", "action_seed": [{"action": "RAG" or "WEB", "query": "...", "aspects_need": ["..."], "source_pref": "", "time_window": ""}], "done_criteria": "...", "priority": 1}]

Rules:
- step_id values are "s1", "s2", ... in order.
- Each step needs at least one action_seed entry.
- Prefer RAG for internal/technical material, WEB for recent or public material.`

const evaluatePrompt = `You are a strict research auditor. Score the current research state for the step below.

Step goal: %s
Thresholds: %s

Claims:
%s

Evidence metadata (id, url, domain, type, time):
%s

Score five metrics in [0,1]: sufficiency (claims cover the goal), reliability (source quality), consistency (no contradictions), recency (evidence freshness), diversity (source/viewpoint spread). List concrete issues. An issue is blocking when it must be fixed before the step can finish.

Return ONLY JSON:
{"metrics": {"sufficiency": 0.0, "reliability": 0.0, "consistency": 0.0, "recency": 0.0, "diversity": 0.0}, "issues": [{"type": "gap|conflict|freshness|quality|diversity", "severity": "low|med|high", "blocking": false, "desc": "...", "aspect": "", "claims": [], "time_window": "", "source_hint": "", "dimension": ""}], "passed": false}

passed is true only when every metric meets its threshold and no blocking issue remains.`

const decidePrompt = `You are a research controller choosing the next action for the step below.

Step goal: %s
Current claims: %s
Last evaluation: %s
Internal knowledge base coverage: %s

Choose exactly one action:
- FINISH: the evaluation passed and nothing blocking remains.
- RESOLVE_CONFLICT: a blocking conflict between claims must be adjudicated first.
- RAG: the gap is likely covered by the internal knowledge base.
- WEB_SEARCH: the gap needs fresh or external material.

Return ONLY JSON: {"action": "FINISH|RAG|WEB_SEARCH|RESOLVE_CONFLICT", "rationale": "..."}`

const ragQueryPrompt = `Write one retrieval query against an internal knowledge base to close the most pressing gap for this step.

Step goal: %s
Known claims: %s
Last evaluation issues: %s

Return ONLY JSON: {"query": "...", "top_k": 5}`

const webQueryPrompt = `Write one web search query to close the most pressing gap for this step. If the evaluation flags stale evidence, bias the query toward fresh results and set params accordingly.

Step goal: %s
Known claims: %s
Last evaluation issues: %s

Return ONLY JSON: {"query": "...", "num_results": 5, "params": {"time_range": "", "sort": ""}}`

const synthesizePrompt = `You are a careful analyst. Turn the evidence below into atomic claims for the research question.

Research question: %s

Evidence:
%s

Existing claims (reuse their ids when restating the same assertion; continue numbering for new ones):
%s

Rules:
- Every claim cites only the evidence ids listed above in support_ids.
- confidence in [0,1] reflects how strongly the cited evidence supports the claim.
- salience in [0,1] reflects how central the claim is to the question.
- aspects name the facets the claim covers.%s

Return ONLY a JSON array:
[{"id": "c1", "text": "...", "support_ids": ["RAG_1"], "aspects": ["..."], "confidence": 0.8, "salience": 0.7%s}]`

const synthesizeStanceRule = `
- stance is "pro", "con" or "neutral" with respect to the research question.`

const synthesizeStanceField = `, "stance": "neutral"`

const conflictPlanPrompt = `Conflicting claims need adjudication. Plan targeted searches to gather decisive evidence, and a rubric for comparing it.

Step goal: %s
Conflict groups: %s
Claims involved: %s
Internal knowledge base coverage: %s

Return ONLY JSON:
{"queries_rag": [{"query": "...", "top_k": 5}], "queries_web": [{"query": "...", "num_results": 5, "params": {}}], "rubric": {"normalization": ["unify units", "align time windows"], "precedence": ["official/academic > standards/regulatory > vendor > media"], "comparison_keys": ["..."]}}`

const adjudicatePrompt = `You are an adjudicator. Decide each conflicting claim's fate using the rubric and all evidence below.

Step goal: %s
Rubric: %s
Conflict groups: %s

Claims:
%s

Evidence:
%s

For every claim in a conflict group return a verdict:
- "upheld": the claim stands; set new_confidence.
- "revised": replace its text with new_text, set new_confidence, list the decisive evidence_ids.
- "retracted": the claim is wrong; it will be removed.

Return ONLY JSON:
{"updated_claims": [{"claim_id": "c1", "action": "upheld|revised|retracted", "new_confidence": 0.8, "new_text": "", "supersedes_id": "", "evidence_ids": [], "rationale_md": "..."}], "summary": {"conflict_groups_total": 1, "groups_resolved": 1, "remaining_conflicts": []}}`

const answerPrompt = `Write the final research answer in markdown.

Question: %s

Findings (claim text, confidence, supporting urls):
%s

Rules:
- Ground every statement in the findings; do not invent facts.
- Cite sources inline as markdown links where a finding has urls.
- Note uncertainty where confidence is low.
- Structure with short sections; lead with the direct answer.`

const simulateRAGPrompt = `Simulate an internal knowledge base returning %d results for the query below. Results are plausible internal documents (design docs, specs, runbooks).

Query: %s

Return ONLY a JSON array:
[{"url": "kb://docs/...", "domain": "internal", "type": "internal", "time": "2025-11", "text": "snippet of 2-3 sentences"}]`

const simulateWebPrompt = `Simulate a web search returning %d results for the query below. Mix source types (official, academic, media, forum) and realistic domains; respect params %s.

Query: %s

Return ONLY a JSON array:
[{"url": "https://...", "domain": "example.com", "type": "media", "time": "2026-01", "text": "snippet of 2-3 sentences"}]`
