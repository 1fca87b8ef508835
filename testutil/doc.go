// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供调度器测试的共享工具和辅助函数。

# 概述

testutil 包为 discovery、balancer、workflow 等包的单元测试提供统一的
辅助能力，避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，TestContext 自动注册 Cleanup
  - 异步断言: AssertEventuallyTrue / AssertNeverTrue，按固定间隔轮询条件
  - 日志辅助: ObservedLogger，基于 zaptest/observer 捕获日志

# 子包

  - testutil/fixtures: 测试数据工厂，提供预置 Agent 快照与任务需求

# 使用示例

	ctx := testutil.TestContext(t)
	registry := discovery.NewMemoryRegistry(fixtures.AgentPool()...)
	testutil.AssertEventuallyTrue(t, func() bool { return done() }, time.Second)
*/
package testutil
