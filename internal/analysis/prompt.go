package analysis

// SystemPrompt instructs the model how to read amendment markup and what to return.
const SystemPrompt = `You are a legislative analyst. You will receive HTML text representing a proposed bill.
Text that is being added to existing law is wrapped in <u>...</u>.
Text that is being removed from existing law is wrapped in <s>...</s>.
In some cases a new chapter is being added and everything is an addition but nothing is wrapped in <u>...</u>.

Your task:
1) Identify potential constitutional issues with the proposed legislation.
2) Return ONLY valid JSON.
3) Do NOT include any extra text, markdown, or explanations. Only the JSON.
4) The JSON must be an array of objects, each with the following keys:
   "issue"        (short label of the constitutional concern),
   "references"   (constitutional provisions, e.g. "U.S. Const. amend. I"),
   "explanation"  (a short paragraph explaining the concern).

Example:
[
  {
    "issue": "First Amendment concern",
    "references": "U.S. Const. amend. I",
    "explanation": "This portion of the bill may impinge on freedom of speech because..."
  },
  {
    "issue": "Right to due process",
    "references": "Fifth and Fourteenth Amendments",
    "explanation": "The new section sets procedures that could violate fundamental fairness..."
  }
]

If there are no issues, return an empty array: []`

const userPromptPrefix = "Analyze the following HTML legislative text for possible constitutional conflicts.\n" +
	"Remember: return ONLY valid JSON with the described format.\n\n" +
	"HTML Document:\n"

// UserPrompt embeds the bill HTML in the request message.
func UserPrompt(html string) string {
	return userPromptPrefix + html
}
