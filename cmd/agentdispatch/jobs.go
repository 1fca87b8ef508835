package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentdispatch/internal/scheduler"
)

const (
	jobPollWorkflows   = "poll_workflows"
	jobAgentHealth     = "agent_health"
	jobPurgeFinished   = "purge_finished"
	jobRebalanceReport = "rebalance_report"
)

// registerJobs 注册驱动引擎与负载均衡器的周期任务
func (a *App) registerJobs() error {
	wf := a.cfg.Workflow

	jobs := []scheduler.Job{
		{
			Name:     jobPollWorkflows,
			Schedule: wf.PollInterval.String(),
			Run:      a.pollWorkflows,
		},
		{
			Name:     jobAgentHealth,
			Schedule: wf.HealthCheckSchedule,
			Run:      a.checkAgentHealth,
		},
		{
			Name:     jobRebalanceReport,
			Schedule: "@every 5m",
			Run:      a.reportRebalance,
		},
	}
	if wf.RetainFinished > 0 {
		jobs = append(jobs, scheduler.Job{
			Name:     jobPurgeFinished,
			Schedule: "@every 10m",
			Run:      a.purgeFinished,
		})
	}

	for _, job := range jobs {
		if err := a.scheduler.Add(job); err != nil {
			return fmt.Errorf("register job %s: %w", job.Name, err)
		}
	}
	return nil
}

func (a *App) pollWorkflows(ctx context.Context) error {
	if n := a.engine.ProcessPendingWorkflows(ctx); n > 0 {
		a.logger.Debug("processed pending workflows", zap.Int("workflows", n))
	}
	return nil
}

func (a *App) checkAgentHealth(ctx context.Context) error {
	if !a.balancer.PerformHealthCheck(ctx, "") {
		return fmt.Errorf("agent health check failed")
	}
	health := a.balancer.GetSystemHealth(ctx)
	a.logger.Info("agent health",
		zap.String("level", string(health.Level)),
		zap.Int("total", health.TotalAgents),
		zap.Int("healthy", health.HealthyAgents),
		zap.Int("open_circuits", health.OpenCircuits),
	)
	return nil
}

func (a *App) purgeFinished(context.Context) error {
	if n := a.engine.PurgeFinished(a.cfg.Workflow.RetainFinished); n > 0 {
		a.logger.Info("purged finished workflows", zap.Int("workflows", n))
	}
	return nil
}

// reportRebalance 只记录建议的迁移，不执行
func (a *App) reportRebalance(ctx context.Context) error {
	plan := a.balancer.RebalanceTasks(ctx)
	if plan == nil || len(plan.Moves) == 0 {
		return nil
	}
	a.logger.Warn("load imbalance detected",
		zap.Strings("overloaded", plan.Overloaded),
		zap.Strings("underutilized", plan.Underutilized),
		zap.Int("proposed_moves", len(plan.Moves)),
	)
	return nil
}
