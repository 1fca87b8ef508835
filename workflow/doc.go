// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供多步骤工作流的执行引擎。

# 概述

一个 Definition 描述步骤、前置依赖、带条件的转移与运行设置；Engine 为每次
执行维护一个状态机：

	Created → Running ⇄ Paused → {Completed | Failed | Cancelled}

终态不可离开。每次 tick 计算就绪集合（Pending、前置步骤全部 Completed、
所有入边条件成立），在并发窗口内准入步骤并按类型派发。

# 步骤类型

  - agent_task: 通过能力匹配选出 Agent，写入 TaskRepository，交给 TaskExecutor
  - delay: 等待 config.delayMs 毫秒，输出 delayMs
  - data_transformation: 按 config.mappings 复制键、按 config.set 写入常量
  - conditional: 立即完成，分支由出边条件决定

缺少参数或未知类型的步骤通过 HandleStepFailure 失败。异步结果只经由
HandleStepCompletion / HandleStepFailure 回到引擎，非 Running 步骤的重复
回调会被忽略。

# 条件

data_equals、data_not_equals、data_contains（不区分大小写）、
data_greater_than、data_less_than（数值比较，无法解析为 false）、
step_completed、step_failed、time_elapsed（自启动起的分钟数）。
未知条件类型视为成立。

# 完成判定

所有步骤为 Completed、Skipped 或可选且 Failed 时执行完成；必选步骤失败且
FailOnStepError 为 true 时执行失败；否则所有步骤结束后以带错误信息的
Completed 收尾。无法再运行的 Pending 步骤会被标记为 Skipped。
*/
package workflow
