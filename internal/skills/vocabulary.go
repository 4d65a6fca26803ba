package skills

// builtinSynonyms 内置同义词表：规范名 -> 别名列表。规范名统一小写。
var builtinSynonyms = map[string][]string{
	"python":             {"py", "python3", "python 3", "питон"},
	"django":             {"django rest framework", "drf"},
	"flask":              {},
	"fastapi":            {"fast api"},
	"go":                 {"golang", "go lang"},
	"java":               {"java se", "java ee", "j2ee"},
	"spring":             {"spring boot", "springboot", "spring framework"},
	"kotlin":             {},
	"javascript":         {"js", "ecmascript", "es6"},
	"typescript":         {"ts"},
	"node.js":            {"node", "nodejs", "node js"},
	"react":              {"react.js", "reactjs", "react js"},
	"vue":                {"vue.js", "vuejs", "vue js"},
	"angular":            {"angularjs", "angular.js"},
	"c++":                {"cpp", "c plus plus"},
	"c#":                 {"c sharp", "csharp"},
	".net":               {"dotnet", "asp.net", ".net core"},
	"php":                {"laravel"},
	"ruby":               {"ruby on rails", "rails", "ror"},
	"rust":               {},
	"swift":              {},
	"postgresql":         {"postgres", "psql", "pg", "постгрес"},
	"mysql":              {"mariadb"},
	"sql server":         {"mssql", "ms sql", "microsoft sql server"},
	"oracle":             {"oracle db", "pl/sql"},
	"mongodb":            {"mongo"},
	"redis":              {},
	"elasticsearch":      {"elastic", "elastic search"},
	"kafka":              {"apache kafka"},
	"rabbitmq":           {"rabbit mq", "amqp"},
	"sql":                {},
	"docker":             {"docker compose", "docker-compose"},
	"kubernetes":         {"k8s", "kube"},
	"aws":                {"amazon web services"},
	"gcp":                {"google cloud", "google cloud platform"},
	"azure":              {"microsoft azure"},
	"terraform":          {},
	"linux":              {"unix"},
	"git":                {"github", "gitlab"},
	"ci/cd":              {"cicd", "ci cd", "jenkins", "github actions"},
	"graphql":            {},
	"rest api":           {"rest", "restful", "restful api"},
	"grpc":               {},
	"microservices":      {"microservice", "микросервисы"},
	"machine learning":   {"ml", "машинное обучение", "机器学习"},
	"deep learning":      {"dl"},
	"pytorch":            {"torch"},
	"tensorflow":         {"tf"},
	"pandas":             {},
	"numpy":              {},
	"data analysis":      {"data analytics", "анализ данных"},
	"html":               {"html5"},
	"css":                {"css3", "scss", "sass"},
	"figma":              {},
	"agile":              {"scrum", "kanban"},
	"project management": {"pm", "управление проектами"},
}

// ambiguousTerms 在自由文本中容易误判的短词，只在明确的技能列表中生效
var ambiguousTerms = map[string]bool{
	"go": true, "py": true, "js": true, "ts": true, "tf": true, "dl": true, "ml": true,
	"pm": true, "pg": true, "rest": true, "node": true, "elastic": true, "rails": true,
	"ror": true, "kube": true, "torch": true,
}

// FreeTextTerms 返回可在自由文本中安全匹配的词条：词条 -> 规范名
func FreeTextTerms() map[string]string {
	out := make(map[string]string)
	for canonical, aliases := range builtinSynonyms {
		if !ambiguousTerms[canonical] {
			out[canonical] = canonical
		}
		for _, a := range aliases {
			if !ambiguousTerms[a] {
				out[a] = canonical
			}
		}
	}
	return out
}
