package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: resume-match:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "resume-match"

	// EmbeddingModulePrefix 向量模块
	EmbeddingModulePrefix = "embedding"
	// ChatModulePrefix 对话模块
	ChatModulePrefix = "chat"
	// SkillsModulePrefix 技能模块
	SkillsModulePrefix = "skills"
	// SearchModulePrefix 搜索模块
	SearchModulePrefix = "search"
	// ParseModulePrefix 解析模块
	ParseModulePrefix = "parse"

	// EntityVector 向量实体
	EntityVector = "vector"
	// EntitySession 会话实体
	EntitySession = "session"
	// EntitySynonyms 同义词实体
	EntitySynonyms = "synonyms"
	// EntityResult 结果实体
	EntityResult = "result"
	// EntityLock 分布式锁实体
	EntityLock = "lock"

	// KeyEmbeddingVector 文本向量缓存 (STRING, JSON 数组)
	// 格式: resume-match:embedding:vector:{model}:{dims}:{sha256}
	KeyEmbeddingVector = AppPrefix + ":" + EmbeddingModulePrefix + ":" + EntityVector + ":%s:%d:%s"

	// KeyChatSession 招聘对话历史 (LIST)
	// 格式: resume-match:chat:session:{sessionID}
	KeyChatSession = AppPrefix + ":" + ChatModulePrefix + ":" + EntitySession + ":%s"

	// KeySkillSynonyms 技能同义词表 (HASH, 规范名 -> 逗号分隔的别名)
	// 格式: resume-match:skills:synonyms
	KeySkillSynonyms = AppPrefix + ":" + SkillsModulePrefix + ":" + EntitySynonyms

	// KeySearchResult 搜索结果缓存 (STRING)
	// 格式: resume-match:search:result:{hash}
	KeySearchResult = AppPrefix + ":" + SearchModulePrefix + ":" + EntityResult + ":%s"

	// KeyParseLock 解析任务去重锁 (STRING)
	// 格式: resume-match:parse:lock:{candidateID}
	KeyParseLock = AppPrefix + ":" + ParseModulePrefix + ":" + EntityLock + ":%s"
)
