package builder

import (
	"strings"

	"github.com/gleamora/push-pipeline/internal/domain"
)

// render performs literal {{name}} substitution into the template patterns.
// There is no conditional logic, no loops, no nesting; rendering can only
// fail for missing variables, which are checked before this point.
func render(tpl *domain.Template, vars map[string]string) domain.RenderedContent {
	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{{"+name+"}}", value)
	}
	replacer := strings.NewReplacer(pairs...)

	return domain.RenderedContent{
		Title:  replacer.Replace(tpl.TitlePattern),
		Body:   replacer.Replace(tpl.BodyPattern),
		Action: replacer.Replace(tpl.ActionPattern),
	}
}
