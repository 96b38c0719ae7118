package godcp

const buildVersion = "0.1.0-dev"
