package policy

import "github.com/ShayCichocki/baton/pkg/models"

// Default returns the built-in policy.
func Default() *Config {
	return &Config{
		FallbackAgent: models.AgentCoder,
		Analysis:      defaultAnalysis(),
		Decision:      defaultDecision(),
		Routing:       defaultRouting(),
		Loop: LoopPolicy{
			Window:             4,
			RepeatThreshold:    3,
			BreakWindow:        5,
			SimpleHistoryLimit: 5,
			EssentialAgents: []models.Agent{
				models.AgentSecuritySpecialist,
				models.AgentDevOpsSpecialist,
				models.AgentTechnicalWriter,
			},
		},
		Progress: ProgressPolicy{
			CompletionStep: 10,
		},
	}
}

func defaultAnalysis() AnalysisPolicy {
	return AnalysisPolicy{
		// Most specific categories first: a "secure banking web app" is
		// security critical before it is a web application.
		ProjectTypes: []ProjectTypeRule{
			{
				Type: models.ProjectSecurityCritical,
				Keywords: []string{
					"security", "secure", "authentication", "authorization",
					"encryption", "payment", "banking", "financial", "medical",
					"healthcare", "password", "oauth", "compliance", "gdpr", "hipaa",
				},
			},
			{
				Type: models.ProjectEnterpriseSystem,
				Keywords: []string{
					"enterprise", "microservice", "distributed", "multi-tenant",
					"erp", "crm", "large-scale", "high availability",
				},
			},
			{
				Type: models.ProjectDataProcessing,
				Keywords: []string{
					"data pipeline", "etl", "csv", "data processing", "analytics",
					"dataset", "machine learning", "batch processing", "data analysis",
				},
			},
			{
				Type: models.ProjectCLITool,
				Keywords: []string{
					"cli tool", "cli app", "cli utility", "command line",
					"command-line", "terminal app", "terminal tool",
				},
			},
			{
				Type: models.ProjectWebApplication,
				Keywords: []string{
					"web app", "web application", "website", "web site", "frontend",
					"rest api", "web service", "dashboard", "react", "vue",
					"angular", "http server", " api ",
				},
			},
			{
				Type: models.ProjectSimpleScript,
				Keywords: []string{
					"simple", "basic", "script", "calculator", "hello world",
					"quick", "small", "utility", "todo",
				},
			},
		},
		Complexity: []ComplexityRule{
			{
				Level: models.ComplexityComplex,
				Keywords: []string{
					"enterprise", "distributed", "microservice", "scalable", "complex",
					"production-grade", "multi-tenant", "real-time", "high availability",
					"large-scale",
				},
			},
			{
				Level: models.ComplexitySimple,
				Keywords: []string{
					"simple", "basic", "quick", "small", "minimal", "hello world",
					"calculator", "prototype",
				},
			},
		},
		Flags: FlagKeywords{
			Security: []string{
				"security", "secure", "auth", "login", "password", "encrypt",
				"payment", "banking", "permission", "vulnerab",
			},
			Performance: []string{
				"performance", "fast", "latency", "throughput", "optimiz",
				"real-time", "high-load", "scalab", "efficient",
			},
			UserFacing: []string{
				"user interface", " ui ", "frontend", "website", "web app", "mobile",
				"dashboard", "gui", "customer", "end user", "user-facing", "interactive",
			},
			Testing: []string{
				"test", "quality", "reliable", "robust", "production", "coverage", "verify",
			},
			Documentation: []string{
				"document", "docs", "readme", " api ", "guide", "tutorial", "manual",
			},
			Deployment: []string{
				"deploy", "production", "docker", "kubernetes", "k8s", "cloud",
				"ci/cd", "release", "hosting", "aws",
			},
		},
	}
}

func defaultDecision() DecisionPolicy {
	return DecisionPolicy{
		BaseConfidence: 0.5,
		KeywordStep:    0.1,
		PositiveKeywords: []string{
			"completed", "tested", "verified", "successfully", "implemented",
			"validated", "passed", "confirmed", "working",
		},
		NegativeKeywords: []string{
			"uncertain", "incomplete", "unclear", "not sure", "unsure",
			"partially", "might not", "unable",
		},
		Bonuses: []ActionBonus{
			{Action: models.ActionComplete, Keyword: "test", Bonus: 0.2},
			{Action: models.ActionHumanReview, Keyword: "security", Bonus: 0.1},
			{Action: models.ActionNextAgent, Keyword: "ready for", Bonus: 0.1},
		},
		ReasonWindow:      200,
		MinReasonLength:   10,
		DefaultConfidence: 0.3,
		Buckets: []KeywordBucket{
			{
				Name: "completion",
				Keywords: []string{
					"task complete", "task is complete", "all tasks complete",
					"workflow complete", "work is complete", "finished all",
					"nothing left to do", "all done",
				},
				Action:     models.ActionComplete,
				Confidence: 0.7,
			},
			{
				Name:       "testing",
				Keywords:   []string{"write tests", "needs testing", "unit test", "test coverage", "run the tests", "testing"},
				Action:     models.ActionNextAgent,
				Target:     models.AgentTester,
				Confidence: 0.7,
			},
			{
				Name:       "security",
				Keywords:   []string{"security", "vulnerability", "authentication", "encryption", "exploit"},
				Action:     models.ActionNextAgent,
				Target:     models.AgentSecuritySpecialist,
				Confidence: 0.7,
			},
			{
				Name:       "human_review",
				Keywords:   []string{"human review", "manual review", "needs approval", "requires approval", "escalate", "human input"},
				Action:     models.ActionHumanReview,
				Confidence: 0.7,
			},
			{
				Name:       "retry",
				Keywords:   []string{"try again", "retry", "let me fix", "another attempt", "redo"},
				Action:     models.ActionRetry,
				Confidence: 0.6,
			},
			{
				Name:       "code_review",
				Keywords:   []string{"code review", "review the code", "needs review", "peer review"},
				Action:     models.ActionNextAgent,
				Target:     models.AgentCodeReviewer,
				Confidence: 0.6,
			},
			{
				Name:       "quality",
				Keywords:   []string{"quality assurance", "quality check", "validate the", "acceptance criteria"},
				Action:     models.ActionNextAgent,
				Target:     models.AgentQAGuardian,
				Confidence: 0.6,
			},
			{
				Name:       "deployment",
				Keywords:   []string{"deploy", "docker", "kubernetes", "ci/cd", "infrastructure"},
				Action:     models.ActionNextAgent,
				Target:     models.AgentDevOpsSpecialist,
				Confidence: 0.7,
			},
			{
				Name:       "documentation",
				Keywords:   []string{"documentation", "readme", "document the", "user guide", "api docs"},
				Action:     models.ActionNextAgent,
				Target:     models.AgentTechnicalWriter,
				Confidence: 0.6,
			},
			{
				Name:       "performance",
				Keywords:   []string{"performance", "optimiz", "latency", "profil", "bottleneck"},
				Action:     models.ActionNextAgent,
				Target:     models.AgentPerformanceSpecialist,
				Confidence: 0.6,
			},
			{
				Name:       "architecture",
				Keywords:   []string{"architecture", "system design", "design the", "component diagram"},
				Action:     models.ActionNextAgent,
				Target:     models.AgentArchitect,
				Confidence: 0.6,
			},
			{
				Name:       "implementation",
				Keywords:   []string{"implement", "write the code", "build the", "develop", "coding"},
				Action:     models.ActionNextAgent,
				Target:     models.AgentCoder,
				Confidence: 0.6,
			},
		},
	}
}

func defaultRouting() RoutingPolicy {
	return RoutingPolicy{
		DefaultMaxExecutions: 3,
		MinConfidence:        0.2,
		Agents: []AgentRule{
			{
				Agent:         models.AgentProductAnalyst,
				MaxExecutions: 2,
				MaxIteration:  3,
				SkipIf:        []string{"simple_project"},
				RequiredFor:   []string{"complex_project"},
			},
			{
				Agent:         models.AgentArchitect,
				MaxExecutions: 2,
				MaxIteration:  6,
				SkipIf:        []string{"simple_project"},
				RequiredFor:   []string{"complex_project"},
			},
			{
				Agent:         models.AgentCoder,
				MaxExecutions: 5,
				RequiredFor:   []string{"always"},
			},
			{
				Agent:       models.AgentCodeReviewer,
				RequiredFor: []string{"medium_or_complex"},
			},
			{
				Agent:       models.AgentQAGuardian,
				RequiredFor: []string{"testing_required"},
			},
			{
				Agent:       models.AgentTester,
				SkipIf:      []string{"no_tests"},
				RequiredFor: []string{"testing_required"},
			},
			{
				Agent:         models.AgentSecuritySpecialist,
				MaxExecutions: 2,
				SkipIf:        []string{"no_security"},
				RequiredFor:   []string{"security_requirements"},
			},
			{
				Agent:         models.AgentDevOpsSpecialist,
				MaxExecutions: 2,
				SkipIf:        []string{"not_deployment"},
				RequiredFor:   []string{"deployment_ready"},
			},
			{
				Agent:         models.AgentTechnicalWriter,
				MaxExecutions: 2,
				SkipIf:        []string{"no_docs"},
				RequiredFor:   []string{"documentation_needed"},
			},
			{
				Agent:         models.AgentPerformanceSpecialist,
				MaxExecutions: 2,
				SkipIf:        []string{"not_performance"},
				RequiredFor:   []string{"performance_critical"},
			},
		},
		Projects: []ProjectProfile{
			{
				Type: models.ProjectSimpleScript,
				SkipAgents: []models.Agent{
					models.AgentArchitect,
					models.AgentDevOpsSpecialist,
					models.AgentSecuritySpecialist,
					models.AgentPerformanceSpecialist,
					models.AgentProductAnalyst,
				},
				OptionalAgents: []models.Agent{models.AgentTechnicalWriter},
			},
			{
				Type:           models.ProjectWebApplication,
				OptionalAgents: []models.Agent{models.AgentPerformanceSpecialist},
			},
			{
				Type:           models.ProjectSecurityCritical,
				CriticalAgents: []models.Agent{models.AgentSecuritySpecialist},
			},
			{
				Type:           models.ProjectEnterpriseSystem,
				CriticalAgents: []models.Agent{models.AgentArchitect},
			},
			{
				Type:           models.ProjectDataProcessing,
				OptionalAgents: []models.Agent{models.AgentTechnicalWriter},
			},
			{
				Type:           models.ProjectCLITool,
				OptionalAgents: []models.Agent{models.AgentArchitect},
			},
		},
		BranchTargets: []BranchRule{
			{Keywords: []string{"security", "vulnerab", "auth"}, Agent: models.AgentSecuritySpecialist},
			{Keywords: []string{"test"}, Agent: models.AgentTester},
			{Keywords: []string{"deploy", "infra", "docker"}, Agent: models.AgentDevOpsSpecialist},
			{Keywords: []string{"doc", "readme"}, Agent: models.AgentTechnicalWriter},
			{Keywords: []string{"review"}, Agent: models.AgentCodeReviewer},
			{Keywords: []string{"perform", "optimi", "slow"}, Agent: models.AgentPerformanceSpecialist},
			{Keywords: []string{"design", "architect"}, Agent: models.AgentArchitect},
			{Keywords: []string{"requirement", "clarif", "scope"}, Agent: models.AgentProductAnalyst},
			{Keywords: []string{"quality", "qa"}, Agent: models.AgentQAGuardian},
			{Keywords: []string{"implement", "fix", "bug", "code"}, Agent: models.AgentCoder},
		},
	}
}
