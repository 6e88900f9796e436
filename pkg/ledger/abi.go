package ledger

import "math/big"

// electionABI is the subset of the election contract interface the engine uses
const electionABI = `[
  {"type":"function","name":"getStats","stateMutability":"view","inputs":[],
   "outputs":[{"name":"totalVotes","type":"uint256"},{"name":"candidateCount","type":"uint256"}]},
  {"type":"function","name":"getCandidates","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"tuple[]","components":[
     {"name":"id","type":"uint256"},{"name":"name","type":"string"},{"name":"voteCount","type":"uint256"}]}]},
  {"type":"function","name":"getState","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"getDetails","stateMutability":"view","inputs":[],
   "outputs":[{"name":"id","type":"uint256"},{"name":"title","type":"string"},
              {"name":"startTime","type":"uint256"},{"name":"endTime","type":"uint256"},
              {"name":"state","type":"uint8"},{"name":"isPublic","type":"bool"},
              {"name":"totalVotes","type":"uint256"}]},
  {"type":"function","name":"getOwner","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"merkleRoot","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"hasVoted","stateMutability":"view",
   "inputs":[{"name":"voterHash","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"setRoot","stateMutability":"nonpayable",
   "inputs":[{"name":"root","type":"bytes32"}],"outputs":[]}
]`

// abiCandidate mirrors the tuple returned by getAllCandidates
type abiCandidate struct {
	Id        *big.Int
	Name      string
	VoteCount *big.Int
}
