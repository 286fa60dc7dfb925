package agent

import "strings"

// DefaultSystemPrompt is used when the caller supplies none.
const DefaultSystemPrompt = ""

// DefaultUserTextTemplate injects the context catalog alongside the
// user question on the first loop iteration.
const DefaultUserTextTemplate = `Вопрос пользователя:
{question}

context_catalog (используй только эти id; если нужен кроп — запроси через request_files):
{context_catalog_json}

Требование:
- Если можно ответить по тексту — ответь сразу.
- Если нужны чертежи/размеры — запроси конкретные context_item_id кропов.
`

// BuildUserPrompt substitutes the question and serialized catalog into
// the template. A custom template must contain the {question}
// placeholder; otherwise the default template is used.
func BuildUserPrompt(question, contextCatalogJSON, template string) string {
	if template == "" || !strings.Contains(template, "{question}") {
		template = DefaultUserTextTemplate
	}
	prompt := strings.ReplaceAll(template, "{question}", question)
	return strings.ReplaceAll(prompt, "{context_catalog_json}", contextCatalogJSON)
}
