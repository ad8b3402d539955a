package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE flows (
				id VARCHAR(64) PRIMARY KEY,
				owner VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				version VARCHAR(64) NOT NULL,
				document JSON NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_flows_owner ON flows(owner);
			CREATE INDEX idx_flows_owner_name ON flows(owner, name);
			CREATE INDEX idx_flows_created_at ON flows(created_at);
		`,
		2: `
			CREATE TABLE flow_versions (
				id VARCHAR(64) PRIMARY KEY,
				flow_id VARCHAR(64) NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
				number INTEGER NOT NULL,
				version VARCHAR(64) NOT NULL,
				checksum VARCHAR(64) NOT NULL,
				document JSON NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (flow_id, number)
			);

			CREATE INDEX idx_flow_versions_flow_id ON flow_versions(flow_id);
		`,
	}
}
