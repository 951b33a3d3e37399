package contracts

// BatchSettlerABI covers the settler entrypoint the service calls. The
// contract executes every staged transferFrom in one transaction and
// reverts the whole batch if any leg fails.
const BatchSettlerABI = `[
  {
    "inputs": [
      {"internalType": "address[]", "name": "tokens", "type": "address[]"},
      {"internalType": "address[]", "name": "recipients", "type": "address[]"},
      {"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"}
    ],
    "name": "batchTransferFrom",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`
