package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_definitions (
				id VARCHAR(255) NOT NULL,
				version INTEGER NOT NULL,
				name VARCHAR(255) NOT NULL,
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (id, version)
			);

			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				workflow_version INTEGER NOT NULL,
				status VARCHAR(50) NOT NULL,
				sequence BIGINT NOT NULL DEFAULT 0,
				trigger_data JSONB NOT NULL DEFAULT '{}',
				failure JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_executions_status ON executions(status, created_at);

			-- One row per (execution, node); checkpoints are upserts.
			CREATE TABLE execution_nodes (
				execution_id VARCHAR(255) NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				sequence BIGINT NOT NULL DEFAULT 0,
				state JSONB NOT NULL,
				PRIMARY KEY (execution_id, node_id)
			);

			CREATE TABLE workflow_jobs (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL,
				kind VARCHAR(50) NOT NULL,
				priority INTEGER NOT NULL DEFAULT 0,
				scheduled_at TIMESTAMP WITH TIME ZONE NOT NULL,
				locked_by VARCHAR(255),
				locked_at TIMESTAMP WITH TIME ZONE,
				visibility_deadline TIMESTAMP WITH TIME ZONE,
				retry_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 0,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'locked', 'completed', 'failed')),
				payload JSONB,
				result JSONB,
				error TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_jobs_claim ON workflow_jobs(status, priority DESC, scheduled_at);
			CREATE INDEX idx_workflow_jobs_execution ON workflow_jobs(execution_id);
		`,
	}
}
