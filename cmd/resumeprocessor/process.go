package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"resume-match-go/internal/pipeline"
	"resume-match-go/internal/types"
)

var (
	outputJSON       = flag.String("output", "", "输出结果到JSON文件")
	requirementsFile = flag.String("requirements", "", "match 命令使用的招聘需求 JSON 文件")
)

type parsedFile struct {
	Path         string                   `json:"path"`
	CandidateID  string                   `json:"candidateId,omitempty"`
	Profile      *types.StructuredProfile `json:"profile,omitempty"`
	QualityScore int                      `json:"qualityScore"`
	Error        string                   `json:"error,omitempty"`
}

// parseAll 批量解析，结果顺序与文件顺序一致
func parseAll(ctx context.Context, p *pipeline.Pipeline, files []string) ([]parsedFile, error) {
	docs := readDocuments(ctx, p, files)
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	results, err := p.ParseDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]parsedFile, len(results))
	for i, r := range results {
		out[i] = parsedFile{Path: docs[i].Path}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
			continue
		}
		out[i].CandidateID = pipeline.CandidateID(texts[i])
		out[i].Profile = r.Profile
		out[i].QualityScore = p.ScoreProfile(r.Profile)
	}
	return out, nil
}

func runParse(ctx context.Context, files []string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	start := time.Now()
	parsed, err := parseAll(ctx, a.Pipeline, files)
	if err != nil {
		return err
	}
	fmt.Printf("解析完成! 耗时: %v\n", time.Since(start))
	for _, f := range parsed {
		if f.Error != "" {
			fmt.Printf("- %s: 失败 %s\n", f.Path, f.Error)
			continue
		}
		fmt.Printf("- %s: %s %s 质量分=%d 来源=%s 技能=%v\n",
			f.Path, f.Profile.Personal.FullName, f.Profile.Professional.Title, f.QualityScore, f.Profile.Source, f.Profile.AllSkills())
	}
	return writeOutput(parsed)
}

func runMatch(ctx context.Context, files []string) error {
	if *requirementsFile == "" {
		return fmt.Errorf("match 命令需要 -requirements 参数")
	}
	data, err := os.ReadFile(*requirementsFile)
	if err != nil {
		return fmt.Errorf("读取需求文件失败: %w", err)
	}
	var req types.SearchRequirements
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("需求文件不是合法 JSON: %w", err)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	parsed, err := parseAll(ctx, a.Pipeline, files)
	if err != nil {
		return err
	}
	byID := make(map[string]string, len(parsed))
	pool := make([]types.Candidate, 0, len(parsed))
	now := time.Now()
	for _, f := range parsed {
		if f.Profile == nil {
			continue
		}
		// 同一份文本重复出现时只保留一次
		if _, dup := byID[f.CandidateID]; dup {
			continue
		}
		byID[f.CandidateID] = f.Path
		pool = append(pool, types.Candidate{ID: f.CandidateID, Profile: f.Profile, QualityScore: f.QualityScore, UpdatedAt: now})
	}

	result, err := a.Pipeline.SearchCandidates(ctx, &req, pool)
	if err != nil {
		return err
	}
	fmt.Printf("候选人 %d 位，返回 %d 位\n", result.Insights.TotalCandidates, len(result.Results))
	for i, r := range result.Results {
		fmt.Printf("%d. %.4f %s\n", i+1, r.Score, byID[r.CandidateID])
		for _, reason := range r.Reasons {
			fmt.Printf("     %s\n", reason)
		}
	}
	return writeOutput(result)
}

func writeOutput(v any) error {
	if *outputJSON == "" {
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(*outputJSON, data, 0o644); err != nil {
		return fmt.Errorf("保存结果失败: %w", err)
	}
	fmt.Printf("结果已保存到: %s\n", *outputJSON)
	return nil
}
