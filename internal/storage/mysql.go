package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"resume-match-go/internal/config"
	"resume-match-go/internal/constants"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"
)

// ErrCandidateNotFound 候选人不存在
var ErrCandidateNotFound = errors.New("candidate not found")

var mysqlTracer = otel.Tracer("resume-match/storage/mysql")

type spanKey struct{}

// GormTracingPlugin 为每个 GORM 操作生成一个 span
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	disableErrSkip bool
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	steps := []struct {
		op       string
		before   func(string, func(*gorm.DB)) error
		after    func(string, func(*gorm.DB)) error
		gormName string
	}{
		{"CREATE", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register, "create"},
		{"SELECT", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register, "query"},
		{"UPDATE", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register, "update"},
		{"DELETE", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register, "delete"},
		{"ROW", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register, "row"},
		{"RAW", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register, "raw"},
	}
	for _, s := range steps {
		if err := s.before("otel:before_"+s.gormName, p.before(s.op)); err != nil {
			return err
		}
		if err := s.after("otel:after_"+s.gormName, p.after()); err != nil {
			return err
		}
	}
	return nil
}

func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		newCtx, span := p.tracer.Start(ctx, fmt.Sprintf("%s %s", operation, tableName),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			))
		db.Statement.Context = context.WithValue(newCtx, spanKey{}, span)
	}
}

func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(spanKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		if sql := db.Statement.SQL.String(); sql != "" {
			span.SetAttributes(attribute.String("db.statement", sql))
		}

		switch {
		case db.Error == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(db.Error, gorm.ErrRecordNotFound):
			// 查无记录属于正常业务结果
			span.SetAttributes(attribute.String("error.type", "record_not_found"))
			span.SetStatus(codes.Ok, "record not found")
		default:
			span.SetAttributes(attribute.String("error.type", "database_error"))
			span.RecordError(db.Error)
			span.SetStatus(codes.Error, db.Error.Error())
		}
	}
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		disableErrSkip: true,
	}
}

// CandidateFilter 候选人列表查询条件
type CandidateFilter struct {
	Location   string
	MinQuality int
	Limit      int
	Offset     int
	// NeedsRepair 只列出画像或向量来自回退的记录
	NeedsRepair bool
}

// MySQL 候选人画像仓库
type MySQL struct {
	db     *gorm.DB
	cfg    *config.MySQLConfig
	logger zerolog.Logger
}

// NewMySQL 连接 MySQL 并迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	timeout := cfg.ConnectTimeoutSeconds
	if timeout <= 0 {
		timeout = 10
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database, timeout)

	var logLevel gormlogger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = gormlogger.Silent
	case 2:
		logLevel = gormlogger.Error
	case 4:
		logLevel = gormlogger.Info
	default:
		logLevel = gormlogger.Warn
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	m := &MySQL{db: db, cfg: cfg, logger: logger.Named("mysql")}
	if err := m.autoMigrateSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	m.logger.Info().Str("database", cfg.Database).Msg("成功连接到MySQL并完成表结构迁移")
	return m, nil
}

// NewMySQLFromDB 使用已打开的连接，不做迁移
func NewMySQLFromDB(db *gorm.DB, cfg *config.MySQLConfig) *MySQL {
	if cfg == nil {
		cfg = &config.MySQLConfig{}
	}
	return &MySQL{db: db, cfg: cfg, logger: logger.Named("mysql")}
}

func (m *MySQL) autoMigrateSchema() error {
	// 迁移时关闭SQL日志
	silent := m.db.Session(&gorm.Session{Logger: gormlogger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent, IgnoreRecordNotFoundError: true},
	)})
	return silent.AutoMigrate(&models.CandidateRecord{}, &models.ParseTask{}, &models.OutboxMessage{})
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// Ping 检查连接
func (m *MySQL) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// SaveCandidate 写入候选人记录，主键冲突时整行覆盖为新版本
func (m *MySQL) SaveCandidate(ctx context.Context, rec *models.CandidateRecord) error {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.SaveCandidate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		semconv.DBSystemMySQL,
		attribute.String("db.operation", "INSERT_ON_DUPLICATE"),
		attribute.String("db.sql.table", "candidates"),
		attribute.String("candidate.id", rec.CandidateID),
	)

	err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "candidate_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"full_name", "email_hash", "title", "location", "total_experience_years",
			"quality_score", "market_value", "profile_json", "skills_json", "embedding_json",
			"embedding_model", "embedding_dims", "embedding_fallback", "profile_source",
			"source_object", "text_object", "parser_version", "parsed_at", "updated_at",
		}),
	}).Create(rec).Error
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("保存候选人失败: %w", err)
	}
	return nil
}

// GetCandidate 按 ID 读取候选人
func (m *MySQL) GetCandidate(ctx context.Context, id string) (*models.CandidateRecord, error) {
	var rec models.CandidateRecord
	err := m.db.WithContext(ctx).Where("candidate_id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCandidateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询候选人失败: %w", err)
	}
	return &rec, nil
}

// ListCandidates 按质量分和更新时间倒序列出候选人
func (m *MySQL) ListCandidates(ctx context.Context, f CandidateFilter) ([]models.CandidateRecord, error) {
	q := m.db.WithContext(ctx).Model(&models.CandidateRecord{})
	if loc := strings.TrimSpace(f.Location); loc != "" {
		q = q.Where("location LIKE ?", "%"+loc+"%")
	}
	if f.MinQuality > 0 {
		q = q.Where("quality_score >= ?", f.MinQuality)
	}
	if f.NeedsRepair {
		q = q.Where("profile_source = ? OR embedding_fallback = ?", types.SourceFallback, true)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var recs []models.CandidateRecord
	if err := q.Order("quality_score DESC").Order("updated_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("查询候选人列表失败: %w", err)
	}
	return recs, nil
}

// LoadCandidates 按质量分读取前 limit 个候选人。不按地点预筛，远程候选人仍需参与评分。
func (m *MySQL) LoadCandidates(ctx context.Context, limit int) ([]types.Candidate, error) {
	recs, err := m.ListCandidates(ctx, CandidateFilter{Limit: limit})
	if err != nil {
		return nil, err
	}
	return m.toCandidates(recs), nil
}

// CountCandidates 候选人总数
func (m *MySQL) CountCandidates(ctx context.Context) (int64, error) {
	var n int64
	if err := m.db.WithContext(ctx).Model(&models.CandidateRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("统计候选人失败: %w", err)
	}
	return n, nil
}

// ScanCandidateVectors 按主键分批读取候选人向量，每批交给 fn 处理。
// 只查询召回需要的列，不加载画像 JSON。
func (m *MySQL) ScanCandidateVectors(ctx context.Context, batchSize int, fn func([]types.CandidateVector) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	var recs []models.CandidateRecord
	err := m.db.WithContext(ctx).Model(&models.CandidateRecord{}).
		Select("candidate_id", "quality_score", "embedding_json", "embedding_model", "embedding_dims", "embedding_fallback").
		FindInBatches(&recs, batchSize, func(tx *gorm.DB, batch int) error {
			out := make([]types.CandidateVector, 0, len(recs))
			for i := range recs {
				out = append(out, toCandidateVector(&recs[i]))
			}
			return fn(out)
		}).Error
	if err != nil {
		return fmt.Errorf("读取候选人向量失败: %w", err)
	}
	return nil
}

// LoadCandidatesByID 按给定 ID 读取候选人，结果顺序与 ids 一致，不存在的 ID 被忽略
func (m *MySQL) LoadCandidatesByID(ctx context.Context, ids []string) ([]types.Candidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var recs []models.CandidateRecord
	if err := m.db.WithContext(ctx).Where("candidate_id IN ?", ids).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("按ID查询候选人失败: %w", err)
	}
	byID := make(map[string]*models.CandidateRecord, len(recs))
	for i := range recs {
		byID[recs[i].CandidateID] = &recs[i]
	}
	ordered := make([]models.CandidateRecord, 0, len(recs))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			ordered = append(ordered, *rec)
		}
	}
	return m.toCandidates(ordered), nil
}

func toCandidateVector(rec *models.CandidateRecord) types.CandidateVector {
	v := types.CandidateVector{
		CandidateID:  rec.CandidateID,
		QualityScore: rec.QualityScore,
		Model:        rec.EmbeddingModel,
		Dimensions:   rec.EmbeddingDims,
		Fallback:     rec.EmbeddingFallback,
	}
	if len(rec.EmbeddingJSON) > 0 {
		// 向量损坏时按无向量处理
		if err := json.Unmarshal(rec.EmbeddingJSON, &v.Values); err != nil {
			v.Values = nil
		}
	}
	return v
}

func (m *MySQL) toCandidates(recs []models.CandidateRecord) []types.Candidate {
	out := make([]types.Candidate, 0, len(recs))
	for i := range recs {
		c, err := ToCandidate(&recs[i])
		if err != nil {
			m.logger.Warn().Err(err).Str("candidate_id", recs[i].CandidateID).Msg("候选人画像损坏，跳过")
			continue
		}
		out = append(out, c)
	}
	return out
}

// CreateParseTask 记录一个待处理的解析任务
func (m *MySQL) CreateParseTask(ctx context.Context, task *models.ParseTask) error {
	if task.Status == "" {
		task.Status = models.StatusPendingParsing
	}
	return m.db.WithContext(ctx).Create(task).Error
}

// UpdateParseTask 更新任务状态，errMsg 为空时清空错误信息
func (m *MySQL) UpdateParseTask(ctx context.Context, jobID, status, errMsg string) error {
	return m.db.WithContext(ctx).Model(&models.ParseTask{}).
		Where("job_id = ?", jobID).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errMsg,
			"attempts":      gorm.Expr("attempts + 1"),
		}).Error
}

// GetParseTask 读取解析任务
func (m *MySQL) GetParseTask(ctx context.Context, jobID string) (*models.ParseTask, error) {
	var task models.ParseTask
	err := m.db.WithContext(ctx).Where("job_id = ?", jobID).First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// CandidateInput 构造候选人记录所需的数据
type CandidateInput struct {
	CandidateID       string
	Profile           *types.StructuredProfile
	QualityScore      int
	MarketValue       *float64
	Embedding         []float64
	EmbeddingModel    string
	EmbeddingFallback bool
	SourceObject      string
	TextObject        string
	ParsedAt          time.Time
}

// NewCandidateRecord 把解析结果转换为表记录
func NewCandidateRecord(in CandidateInput) (*models.CandidateRecord, error) {
	if in.Profile == nil {
		return nil, fmt.Errorf("profile is required")
	}
	profileJSON, err := json.Marshal(in.Profile)
	if err != nil {
		return nil, fmt.Errorf("序列化画像失败: %w", err)
	}
	skillsJSON, err := json.Marshal(in.Profile.AllSkills())
	if err != nil {
		return nil, err
	}
	rec := &models.CandidateRecord{
		CandidateID:          in.CandidateID,
		FullName:             in.Profile.Personal.FullName,
		EmailHash:            hashEmail(in.Profile.Personal.Email),
		Title:                in.Profile.Professional.Title,
		Location:             in.Profile.Personal.Location,
		TotalExperienceYears: in.Profile.Professional.TotalExperienceYears,
		QualityScore:         in.QualityScore,
		MarketValue:          in.MarketValue,
		ProfileJSON:          profileJSON,
		SkillsJSON:           skillsJSON,
		EmbeddingModel:       in.EmbeddingModel,
		EmbeddingDims:        len(in.Embedding),
		EmbeddingFallback:    in.EmbeddingFallback,
		ProfileSource:        in.Profile.Source,
		SourceObject:         in.SourceObject,
		TextObject:           in.TextObject,
		ParserVersion:        constants.ParserVersion,
		ParsedAt:             in.ParsedAt,
	}
	if len(in.Embedding) > 0 {
		if rec.EmbeddingJSON, err = json.Marshal(in.Embedding); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// ToCandidate 把表记录转换为匹配用的候选人
func ToCandidate(rec *models.CandidateRecord) (types.Candidate, error) {
	var profile types.StructuredProfile
	if err := json.Unmarshal(rec.ProfileJSON, &profile); err != nil {
		return types.Candidate{}, fmt.Errorf("解析画像JSON失败: %w", err)
	}
	return types.Candidate{
		ID:           rec.CandidateID,
		Profile:      &profile,
		QualityScore: rec.QualityScore,
		MarketValue:  rec.MarketValue,
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}

func hashEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}
